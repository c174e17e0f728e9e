package backend

import (
	_ "github.com/genevo/fiteval/ml/backend/host"
	_ "github.com/genevo/fiteval/ml/backend/opencl"
)
