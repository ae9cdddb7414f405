package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dashbloxx/Asterisk/vfs"
)

func TestLoadConfigDefaultsWhenNoPathGiven(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/system", cfg.SystemMount)
	assert.Equal(t, 1<<18, cfg.TotalPages)
}

func TestLoadConfigParsesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("total_pages: 4096\nsystem_mount: /system\n"), 0600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.TotalPages)
}

func TestBootMountsSysinfoAndInstallsShm(t *testing.T) {
	cfg := defaultConfig()
	d, err := boot(cfg, logrus.New())
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Sub.FS.GetNode("/system/meminfo/totalpages")
	require.NoError(t, err)
	_, err = d.Sub.FS.GetNode("/system/shm")
	require.NoError(t, err)

	node, err := d.Shm.CreateObject("probe")
	require.NoError(t, err)
	assert.True(t, node.Type.Has(vfs.CharacterDevice))

	s := d.Sockets.NewSocket()
	require.NotNil(t, s)

	require.NotNil(t, d.Fat)
}
