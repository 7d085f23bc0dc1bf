/*
 * This file is part of Atlas-DB.
 *
 * Atlas-DB is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of
 * the License, or (at your option) any later version.
 *
 * Atlas-DB is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with Atlas-DB. If not, see <https://www.gnu.org/licenses/>.
 */

package options

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process wide logger. It discards everything until the
// process replaces it, typically with the result of NewLogger.
var Logger = zap.NewNop()

type Options struct {
	DevelopmentMode  bool
	retainFreeRanges bool
	mu               sync.RWMutex
}

func (o *Options) RetainFreeRanges() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.retainFreeRanges
}

func (o *Options) SetRetainFreeRanges(retain bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retainFreeRanges = retain
}

var CurrentOptions *Options

func init() {
	developmentMode := os.Getenv("ATLAS_DEVELOPMENT_MODE") == "true"

	CurrentOptions = &Options{
		DevelopmentMode: developmentMode,
	}
}

// NewLogger builds a logger writing at level to output, which is "stdout",
// "stderr" or a file path. Format is "json" or "text". In development mode
// the logger panics on DPanic, which is how contract violations surface
// during testing.
func NewLogger(level, format, output string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if CurrentOptions.DevelopmentMode {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	switch format {
	case "json":
		cfg.Encoding = "json"
	case "text":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}
