package config

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Every exported Config field must have a matching EnvSpecs entry so the
// generated docs stay in sync with the struct.
func TestEnvSpecsCoverConfig(t *testing.T) {
	specs := EnvSpecs()
	byName := make(map[string]EnvVar, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	cfgType := reflect.TypeOf(Config{})
	for i := 0; i < cfgType.NumField(); i++ {
		f := cfgType.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		require.NotEmpty(t, key, "field %s has no mapstructure tag", f.Name)

		spec, ok := byName[key]
		require.True(t, ok, "no EnvSpecs entry for %s", key)
		require.Equal(t, "LAMPO_"+key, spec.FullName)
		require.NotEmpty(t, spec.Description)

		delete(byName, key)
	}

	require.Empty(t, byName, "EnvSpecs has entries without matching Config fields")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LAMPO_DATADIR", t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "badger", cfg.DbType)
	require.Equal(t, uint32(120), cfg.SwapTimeout)
	require.Equal(t, uint32(300), cfg.RefreshInterval)
	require.Equal(t, uint32(30), cfg.BlockPollDelay)
}

func TestLoadConfigRejectsUnknownDbType(t *testing.T) {
	t.Setenv("LAMPO_DATADIR", t.TempDir())
	t.Setenv("LAMPO_DB_TYPE", "postgres")

	_, err := LoadConfig()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "unsupported db type"))
}
