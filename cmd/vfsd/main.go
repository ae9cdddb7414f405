// Command vfsd boots the kernel.Subsystem and its VFS providers, the
// Go analogue of the original kernel's init sequence that mounted
// sysinfo and registered the fat/shm/socket providers before handing
// control to user threads. Flag/config handling follows the cobra +
// pflag + yaml.v2 combination the rest of this module's dependency
// stack carries.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"
	"gopkg.in/yaml.v2"

	"github.com/Dashbloxx/Asterisk/internal/sched"
	"github.com/Dashbloxx/Asterisk/internal/vmm"
	"github.com/Dashbloxx/Asterisk/kernel"
	"github.com/Dashbloxx/Asterisk/providers/fatfs"
	"github.com/Dashbloxx/Asterisk/providers/shm"
	"github.com/Dashbloxx/Asterisk/providers/sysinfo"
	"github.com/Dashbloxx/Asterisk/providers/unixsocket"
)

// config is the on-disk shape a deployer points --config at. It is
// intentionally small: the fat provider's volumes are attached by
// whatever owns the actual block devices (out of scope here, per
// spec.md §1), not by this daemon.
type config struct {
	TotalPages int    `yaml:"total_pages"`
	SystemMount string `yaml:"system_mount"`
	PeakpagesDB string `yaml:"peakpages_db"`
}

func defaultConfig() config {
	return config{TotalPages: 1 << 18, SystemMount: "/system"}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("vfsd: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("vfsd: parse config %s: %w", path, err)
	}
	return cfg, nil
}

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:           "vfsd",
		Short:         "Boots the VFS kernel subsystem and its providers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")
	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the subsystem and blocks until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

// daemon bundles the booted subsystem with the providers that have no
// VFS mount point of their own: sockets are created on demand by
// whatever owns the process/descriptor-table layer (out of scope per
// spec.md §1), via daemon.Sockets.NewSocket(), so a handle is kept
// here for that future caller rather than dropped after registration.
type daemon struct {
	Sub     *kernel.Subsystem
	Fat     *fatfs.Type
	Shm     *shm.Type
	Sockets *unixsocket.Type
	peakDB  *bbolt.DB
}

func (d *daemon) Close() error {
	if d.peakDB != nil {
		return d.peakDB.Close()
	}
	return nil
}

// boot constructs the subsystem and installs every provider, without
// blocking — split out from serve so it can be exercised directly by
// tests.
func boot(cfg config, log *logrus.Logger) (*daemon, error) {
	sub := kernel.New(vmm.New(cfg.TotalPages), sched.New(), log)

	var peakDB *bbolt.DB
	if cfg.PeakpagesDB != "" {
		var err error
		peakDB, err = bbolt.Open(cfg.PeakpagesDB, 0600, nil)
		if err != nil {
			return nil, fmt.Errorf("vfsd: open peakpages db %s: %w", cfg.PeakpagesDB, err)
		}
	}

	if _, err := sub.FS.Mkdir(sub.FS.Root(), cfg.SystemMount[1:], 0); err != nil {
		return nil, fmt.Errorf("vfsd: create %s: %w", cfg.SystemMount, err)
	}
	sub.FS.Register(sysinfo.New(sub, peakDB))
	if err := sub.FS.Mount("", cfg.SystemMount, "sysinfo", 0, nil); err != nil {
		return nil, fmt.Errorf("vfsd: mount sysinfo: %w", err)
	}

	shmType, err := shm.Install(sub, cfg.SystemMount+"/shm")
	if err != nil {
		return nil, fmt.Errorf("vfsd: install shm: %w", err)
	}

	// fatType is registered but not mounted here: the block devices it
	// would mount over belong to whatever owns physical storage (out of
	// scope per spec.md §1). A caller mounts a volume later with
	// sub.FS.Mount(devicePath, targetPath, "fat", 0, nil).
	fatType := fatfs.New()
	sub.FS.Register(fatType)

	return &daemon{
		Sub:     sub,
		Fat:     fatType,
		Shm:     shmType,
		Sockets: unixsocket.New(sub),
		peakDB:  peakDB,
	}, nil
}

func serve() error {
	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("vfsd: --log-level: %w", err)
	}
	log.SetLevel(level)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	d, err := boot(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	log.WithFields(logrus.Fields{
		"system_mount":  cfg.SystemMount,
		"total_pages":   cfg.TotalPages,
		"socket_domain": "unix",
	}).Info("vfsd: subsystem ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("vfsd: shutting down")
	return nil
}
