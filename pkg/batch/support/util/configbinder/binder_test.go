package configbinder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/parabatch/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

type importParams struct {
	InputFlatFile string        `mapstructure:"inputFlatFile" validate:"required"`
	ChunkSize     int           `mapstructure:"chunkSize" validate:"omitempty,gt=0"`
	DryRun        bool          `mapstructure:"dryRun"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func TestBind_ConvertsStrings(t *testing.T) {
	var p importParams
	err := configbinder.Bind("test", map[string]interface{}{
		"inputFlatFile": "data/transactions.csv",
		"chunkSize":     "25",
		"dryRun":        "true",
		"timeout":       "30s",
	}, &p)
	require.NoError(t, err)
	assert.Equal(t, importParams{InputFlatFile: "data/transactions.csv", ChunkSize: 25, DryRun: true, Timeout: 30 * time.Second}, p)
}

func TestBind_ValidationFailure(t *testing.T) {
	var p importParams
	err := configbinder.Bind("multiThreadJob", map[string]interface{}{"chunkSize": "10"}, &p)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
	assert.Contains(t, err.Error(), "InputFlatFile")
}

func TestBind_DecodeFailure(t *testing.T) {
	var p importParams
	err := configbinder.Bind("multiThreadJob", map[string]interface{}{"inputFlatFile": "a", "chunkSize": "many"}, &p)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}
