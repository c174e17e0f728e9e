// game.go - Snake-Simulation eines einzelnen Genoms
//
// Enthaelt:
// - Simulate: Spielschleife mit Schrittbudget und Bonus-Schritten
// - game: Spielfeld, Koerper, Futterplatzierung mit festem Seed
// - sense: 8 Richtungen x (Wand, Futter, Koerper) + Richtung one-hot

package snake

import "github.com/genevo/fiteval/program"

const (
	// FoodReward is the fitness credited per food eaten. Every survived step
	// adds one.
	FoodReward = 100

	// NumSensors is the number of inputs the game produces per step.
	// Networks with fewer inputs see a prefix; extra inputs read zero.
	NumSensors = 8*3 + 4

	// seed is shared by every genome, so all genomes play the same food
	// sequence as long as they make the same moves.
	seed uint32 = 0x9E3779B9
)

type point struct{ x, y int }

// up, right, down, left
var moves = [4]point{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}

// clockwise from up
var sensors = [8]point{{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}}

// Simulate plays one game controlled by genome and returns its fitness:
// FoodReward per food plus the number of steps survived. Eating extends the
// remaining step budget by cfg.BonusSteps.
func Simulate(cfg program.Config, genome []float32) float32 {
	if cfg.GridWidth <= 0 || cfg.GridHeight <= 0 {
		return 0
	}

	g := newGame(cfg.GridWidth, cfg.GridHeight)
	net := newMLP(cfg, genome)
	in := make([]float32, max(cfg.InputSize, NumSensors))

	remaining, steps, eaten := cfg.MaxSteps, 0, 0
	for remaining > 0 {
		g.sense(in)
		if out := net.forward(in); out >= 0 {
			g.dir = out % len(moves)
		}

		alive, ate := g.step()
		if !alive {
			break
		}
		steps++
		remaining--

		if ate {
			eaten++
			remaining += cfg.BonusSteps
			if !g.placeFood() {
				// the snake fills the grid
				break
			}
		}
	}
	return float32(eaten*FoodReward + steps)
}

type game struct {
	w, h     int
	body     []point // head first
	occupied []bool
	dir      int
	food     point
	rng      uint32
}

func newGame(w, h int) *game {
	g := &game{
		w:        w,
		h:        h,
		occupied: make([]bool, w*h),
		dir:      1,
		rng:      seed,
	}
	head := point{w / 2, h / 2}
	g.body = append(make([]point, 0, w*h), head)
	g.occupied[g.index(head)] = true
	g.placeFood()
	return g
}

func (g *game) index(p point) int { return p.y*g.w + p.x }

func (g *game) inside(p point) bool {
	return p.x >= 0 && p.x < g.w && p.y >= 0 && p.y < g.h
}

// next advances the xorshift32 generator.
func (g *game) next() uint32 {
	x := g.rng
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	g.rng = x
	return x
}

// placeFood puts food on a random free cell, scanning forward from the
// drawn cell when it is taken. It reports false when no cell is free.
func (g *game) placeFood() bool {
	cells := g.w * g.h
	if len(g.body) >= cells {
		return false
	}
	start := int(g.next() % uint32(cells))
	for i := range cells {
		c := (start + i) % cells
		if !g.occupied[c] {
			g.food = point{c % g.w, c / g.w}
			return true
		}
	}
	return false
}

// step moves the head one cell in the current direction. The tail cell is
// vacated first unless the snake eats, so following the tail is legal.
func (g *game) step() (alive, ate bool) {
	m := moves[g.dir]
	head := point{g.body[0].x + m.x, g.body[0].y + m.y}
	if !g.inside(head) {
		return false, false
	}

	ate = head == g.food
	if !ate {
		tail := g.body[len(g.body)-1]
		g.occupied[g.index(tail)] = false
		g.body = g.body[:len(g.body)-1]
	}
	if g.occupied[g.index(head)] {
		return false, ate
	}

	g.body = append(g.body, point{})
	copy(g.body[1:], g.body)
	g.body[0] = head
	g.occupied[g.index(head)] = true
	return true, ate
}

// sense fills in with inverse distances to the wall, the food and the body
// along eight rays, followed by the current direction one-hot.
func (g *game) sense(in []float32) {
	clear(in)
	head := g.body[0]
	for d, v := range sensors {
		p := point{head.x + v.x, head.y + v.y}
		dist := 1
		seenFood, seenBody := false, false
		for g.inside(p) {
			if !seenFood && p == g.food {
				in[3*d+1] = 1 / float32(dist)
				seenFood = true
			}
			if !seenBody && g.occupied[g.index(p)] {
				in[3*d+2] = 1 / float32(dist)
				seenBody = true
			}
			p.x += v.x
			p.y += v.y
			dist++
		}
		in[3*d] = 1 / float32(dist)
	}
	in[3*len(sensors)+g.dir] = 1
}
