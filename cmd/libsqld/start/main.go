package start

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/asajjanshetty/libsql/connection"
	"github.com/asajjanshetty/libsql/database"
	"github.com/asajjanshetty/libsql/engine"
	"github.com/asajjanshetty/libsql/namespace"
	"github.com/asajjanshetty/libsql/replication"
	"github.com/asajjanshetty/libsql/rpc"
	"github.com/asajjanshetty/libsql/utils"
	"github.com/asajjanshetty/libsql/utils/log"
	"github.com/asajjanshetty/libsql/wal"
)

const (
	usage                 = "start"
	short                 = "Start a libsql database server"
	long                  = "This command starts a libsql database server"
	example               = "libsqld start --config <path>"
	defaultConfigFilePath = "./libsqld.yml"
	configDesc            = "set the path for the libsqld YAML configuration file"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	globalCtx, globalCancel := context.WithCancel(context.Background())
	defer globalCancel()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage once the config path was readable.
	cmd.SilenceUsage = true

	log.Info("using %v for configuration", configFilePath)

	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	config.StartTime = time.Now()

	log.Info("initializing libsqld as %s...", config.Role)

	configStore := namespace.NewFileConfigStore(config.RootDirectory)

	var meta *namespace.MetaStore[database.Database]
	meta, err = namespace.NewMetaStore(configStore, config.MetaChannelSize,
		func(ns namespace.Name, h namespace.MetaStoreHandle) (database.Database, error) {
			return openDatabase(globalCtx, config, ns, h)
		})
	if err != nil {
		return fmt.Errorf("failed to initialize the metadata store: %w", err)
	}

	registry := database.NewRegistry(func(ctx context.Context, ns namespace.Name) (database.Database, error) {
		handle, err2 := meta.Handle(ns)
		if err2 != nil {
			return nil, err2
		}
		return openDatabase(ctx, config, ns, handle)
	})

	grpcServer := grpc.NewServer()
	rpc.RegisterProxyServer(grpcServer, rpc.NewProxyServer(registry))
	if config.Role == utils.RolePrimary {
		rpc.RegisterReplicationServer(grpcServer, rpc.NewReplicationServer(registry))
	}

	if config.MetricsPort != "" {
		log.Info("launching prometheus metrics server...")
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err2 := http.ListenAndServe(":"+config.MetricsPort, nil); err2 != nil {
				log.Error("metrics server error: %v", err2)
			}
		}()
	}

	// Spawn a goroutine and listen for a signal.
	signalChan := make(chan os.Signal, 1)
	go func() {
		for s := range signalChan {
			log.Info("initiating graceful shutdown due to '%v' request", s)
			grpcServer.GracefulStop()
			log.Info("shutdown grpc server...")
			globalCancel()
			registry.Shutdown()
			meta.Close()
			log.Info("waiting a grace period of %v to shutdown...", config.StopGracePeriod)
			time.Sleep(config.StopGracePeriod)
			return
		}
	}()
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	lis, err := net.Listen("tcp", ":"+config.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", config.ListenPort, err)
	}
	log.Info("startup time: %s", time.Since(config.StartTime))
	log.Info("launching grpc listener on port %s...", config.ListenPort)
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("grpc server error: %w", err)
	}
	return nil
}

// openDatabase builds the role-appropriate database for one namespace.
func openDatabase(ctx context.Context, config *utils.Config, ns namespace.Name,
	handle namespace.MetaStoreHandle,
) (database.Database, error) {
	dir := filepath.Join(config.RootDirectory, ns.String())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create namespace directory for %s", ns)
	}
	eng, err := engine.NewSqliteEngine(filepath.Join(dir, "data.db"))
	if err != nil {
		return nil, err
	}

	switch config.Role {
	case utils.RolePrimary:
		logger, err := replication.NewLogger(dir)
		if err != nil {
			eng.Close()
			return nil, err
		}
		maker := database.GuardedMaker(connection.NewMakeLocal(eng), handle)
		return database.NewPrimaryDatabase(logger, maker), nil

	case utils.RoleReplica:
		dial := func(ctx context.Context) (connection.RpcStream, error) {
			return rpc.DialProxy(ctx, config.PrimaryAddr, ns)
		}
		maker := database.GuardedMaker(
			connection.NewMakeWriteProxy(connection.NewMakeLocal(eng), dial), handle)
		if err := startFollower(ctx, config, ns, dir); err != nil {
			eng.Close()
			return nil, err
		}
		return database.NewReplicaDatabase(maker), nil
	}
	return nil, errors.Errorf("unknown role %q", config.Role)
}

// startFollower replays the primary's replication log into the
// namespace's local frame store.
func startFollower(ctx context.Context, config *utils.Config, ns namespace.Name, dir string) error {
	framesPath := filepath.Join(dir, "frames.db")
	f, err := wal.OsVfs{}.OpenFile(framesPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return errors.Wrapf(err, "failed to open frame store for namespace %s", ns)
	}
	mgr := wal.NewFileWalManager()
	w, err := mgr.Open(wal.OsVfs{}, f, framesPath, false, 0)
	if err != nil {
		f.Close()
		return err
	}

	injector := replication.NewInjector(w, wal.DefaultPageSize, uint64(w.LastFrameIndex())+1)
	client, err := rpc.DialReplication(ctx, config.PrimaryAddr, ns)
	if err != nil {
		mgr.Close(w, nil)
		f.Close()
		return err
	}
	receiver := replication.NewReceiver(client, injector)

	go func() {
		if err := receiver.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("replication receiver for namespace %s failed: %v", ns, err)
		}
		client.Shutdown()
		if err := mgr.Close(w, make([]byte, wal.DefaultPageSize)); err != nil {
			log.Error("failed to close frame store for namespace %s: %v", ns, err)
		}
		f.Close()
	}()
	log.Info("following primary %s for namespace %s", config.PrimaryAddr, ns)
	return nil
}
