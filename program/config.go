// config.go - Evaluierungs-Konfiguration und Compiler-Defines
//
// Enthaelt:
// - Config: die acht Topologie- und Simulationsparameter
// - Default, FromSlice, ParseTopology, Validate
// - Defines (geordnete Tabelle), BuildOptions, Key
// - LoadConfig fuer YAML- und JSON-Dateien
// - UnmarshalJSON/UnmarshalYAML: alle acht Schluessel sind Pflicht

package program

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/ml"
)

// NumParams is the number of values in a Config.
const NumParams = 8

// Config parameterises the network topology and the simulation. Every field
// becomes a compile-time define of the evaluation program.
type Config struct {
	InputSize  int `json:"input_size" yaml:"input_size"`
	HiddenSize int `json:"hidden_size" yaml:"hidden_size"`
	OutputSize int `json:"output_size" yaml:"output_size"`
	NumHidden  int `json:"num_hidden" yaml:"num_hidden"`
	GridWidth  int `json:"grid_width" yaml:"grid_width"`
	GridHeight int `json:"grid_height" yaml:"grid_height"`
	MaxSteps   int `json:"max_steps" yaml:"max_steps"`
	BonusSteps int `json:"bonus_steps" yaml:"bonus_steps"`
}

// configKeys are the serialised field names in define order.
var configKeys = []string{
	"input_size", "hidden_size", "output_size", "num_hidden",
	"grid_width", "grid_height", "max_steps", "bonus_steps",
}

// checkKeys requires every config key exactly once and nothing else.
func checkKeys(keys []string) error {
	for _, k := range keys {
		if !slices.Contains(configKeys, k) {
			return invalidConfig(fmt.Errorf("unknown field %q", k))
		}
	}

	var missing []string
	for _, k := range configKeys {
		if !slices.Contains(keys, k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return invalidConfig(fmt.Errorf("missing fields %s", strings.Join(missing, ", ")))
	}
	return nil
}

// UnmarshalJSON rejects objects that do not name all eight fields.
func (c *Config) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return invalidConfig(err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	if err := checkKeys(keys); err != nil {
		return err
	}

	type plain Config
	if err := json.Unmarshal(b, (*plain)(c)); err != nil {
		return invalidConfig(err)
	}
	return nil
}

// UnmarshalYAML applies the same rule as UnmarshalJSON to a YAML mapping.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return invalidConfig(fmt.Errorf("line %d: expected a mapping", value.Line))
	}

	keys := make([]string, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keys = append(keys, value.Content[i].Value)
	}
	if err := checkKeys(keys); err != nil {
		return err
	}

	type plain Config
	if err := value.Decode((*plain)(c)); err != nil {
		return invalidConfig(err)
	}
	return nil
}

// Default returns the standard snake topology: 24 inputs, two hidden layers
// of 16, four outputs on a 20x20 grid.
func Default() Config {
	return Config{
		InputSize:  24,
		HiddenSize: 16,
		OutputSize: 4,
		NumHidden:  2,
		GridWidth:  20,
		GridHeight: 20,
		MaxSteps:   200,
		BonusSteps: 100,
	}
}

// FromSlice builds a Config from eight values in define order.
func FromSlice(values []int) (Config, error) {
	if len(values) != NumParams {
		return Config{}, invalidConfig(fmt.Errorf("expected %d values, got %d", NumParams, len(values)))
	}
	c := Config{
		InputSize:  values[0],
		HiddenSize: values[1],
		OutputSize: values[2],
		NumHidden:  values[3],
		GridWidth:  values[4],
		GridHeight: values[5],
		MaxSteps:   values[6],
		BonusSteps: values[7],
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ParseTopology parses a comma separated list of eight integers.
func ParseTopology(s string) (Config, error) {
	fields := strings.Split(s, ",")
	values := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Config{}, invalidConfig(fmt.Errorf("topology value %q: %w", f, err))
		}
		values = append(values, n)
	}
	return FromSlice(values)
}

func invalidConfig(err error) error {
	return ml.NewError(ml.StageValidate, ml.ErrInvalidInput, ml.OpInvalidConfig, err)
}

// Slice returns the values in define order.
func (c Config) Slice() []int {
	return []int{c.InputSize, c.HiddenSize, c.OutputSize, c.NumHidden, c.GridWidth, c.GridHeight, c.MaxSteps, c.BonusSteps}
}

func (c Config) String() string {
	parts := make([]string, 0, NumParams)
	for _, v := range c.Slice() {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ",")
}

// Validate rejects negative values and values the device int type cannot hold.
func (c Config) Validate() error {
	for pair := c.Defines().Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value < 0 {
			return invalidConfig(fmt.Errorf("%s must not be negative, got %d", pair.Key, pair.Value))
		}
		if pair.Value > 1<<31-1 {
			return invalidConfig(fmt.Errorf("%s exceeds int32 range, got %d", pair.Key, pair.Value))
		}
	}
	return nil
}

// Defines returns the preprocessor definitions in fixed order.
func (c Config) Defines() *orderedmap.OrderedMap[string, int] {
	m := orderedmap.New[string, int]()
	m.Set("INPUT_SIZE", c.InputSize)
	m.Set("HIDDEN_SIZE", c.HiddenSize)
	m.Set("OUTPUT_SIZE", c.OutputSize)
	m.Set("N_HIDDEN", c.NumHidden)
	m.Set("GRID_WIDTH", c.GridWidth)
	m.Set("GRID_HEIGHT", c.GridHeight)
	m.Set("MAX_STEPS", c.MaxSteps)
	m.Set("BONUS_STEPS", c.BonusSteps)
	return m
}

// BuildOptions renders the compiler options for c, followed by any extra
// options from FITEVAL_BUILD_OPTIONS.
func (c Config) BuildOptions() string {
	var sb strings.Builder
	for pair := c.Defines().Oldest(); pair != nil; pair = pair.Next() {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "-D %s=%d", pair.Key, pair.Value)
	}
	if extra := strings.TrimSpace(envconfig.BuildOptions()); extra != "" {
		sb.WriteByte(' ')
		sb.WriteString(extra)
	}
	return sb.String()
}

// Key identifies the program obtained by compiling source with c.
func (c Config) Key(source string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(c.BuildOptions()))
	return hex.EncodeToString(h.Sum(nil))
}

// LoadConfig reads a Config from a YAML or JSON file. All eight keys must
// be present; missing or unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, invalidConfig(err)
	}

	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		err = dec.Decode(&c)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		err = dec.Decode(&c)
	}
	var e *ml.Error
	switch {
	case errors.As(err, &e):
		return Config{}, err
	case err != nil:
		return Config{}, invalidConfig(fmt.Errorf("%s: %w", path, err))
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
