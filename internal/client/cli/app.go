package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/client/client"
	"github.com/dmitrijs2005/shopkeeper/internal/client/config"
	"github.com/dmitrijs2005/shopkeeper/internal/client/connectivity"
	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/shopkeeper/internal/client/services"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/events"
	"github.com/dmitrijs2005/shopkeeper/internal/filex"
	"github.com/dmitrijs2005/shopkeeper/internal/logging"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

// syncer is the part of SyncService the commands use.
type syncer interface {
	ProcessPendingOperations(ctx context.Context) services.DrainReport
	PendingCount() int
	Rebuild(ctx context.Context, userID string) (int, error)
	Run(ctx context.Context)
}

// trasher is the part of TrashService the commands use.
type trasher interface {
	ListAll(ctx context.Context, userID string) (services.TrashList, error)
	Restore(ctx context.Context, userID string, kind models.EntityKind, id string) (services.Result, error)
	PermanentlyDelete(ctx context.Context, userID string, kind models.EntityKind, id string) (services.Result, error)
	CleanupExpired(ctx context.Context, userID string) (int, error)
	Rebuild(ctx context.Context, userID string) (int, error)
	RunCleanup(ctx context.Context, userID string, every time.Duration)
}

type App struct {
	config      *config.Config
	authService services.AuthService
	sync        syncer
	trash       trasher
	entities    map[models.EntityKind]entityOps
	monitor     *connectivity.Monitor
	bus         *events.Bus
	log         logging.Logger
	closers     []io.Closer

	mu       sync.Mutex
	session  client.Session
	userName string
	Mode     Mode

	// set by Run; background loops are started on login and stopped on logout
	runCtx   context.Context
	wg       *sync.WaitGroup
	bgCancel context.CancelFunc

	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the local cache under cfg.DataDir and wires the services.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	dir, err := filex.EnsureDir(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	c.DataDir = dir

	log, logCloser := logging.NewFileLogger(logging.FileOptions{
		Path:  c.LogPath(),
		Level: logging.ParseLevel(c.LogLevel),
	})
	closers := []io.Closer{logCloser}

	db, err := repomanager.OpenDatabase(ctx, c.DatabasePath())
	if err != nil {
		log.Error(ctx, "error initializing database", "path", c.DatabasePath(), "error", err)
		return nil, err
	}
	closers = append(closers, db)

	prober, err := connectivity.NewGRPCHealthProber(c.HealthAddr, "")
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	closers = append(closers, prober)

	bus := events.NewBus()
	monitor := connectivity.NewMonitor(prober, bus, log)

	api := client.NewHTTPClient(c.ServerURL, client.WithTimeout(c.RequestTimeout), client.WithLogger(log))
	repos := repomanager.NewSQLiteRepositoryManager(common.RealClock{})

	syncSvc := services.NewSyncService(repos.Records(db), api, monitor, bus, log, services.SyncOptions{
		MaxRetries:    c.MaxRetries,
		DrainInterval: c.DrainInterval,
	})
	trashSvc := services.NewTrashService(db, repos, api, api, syncSvc, log)

	entities, err := newEntityOps(syncSvc, trashSvc)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	return &App{
		config:      c,
		authService: services.NewAuthService(api, db, repos, log),
		sync:        syncSvc,
		trash:       trashSvc,
		entities:    entities,
		monitor:     monitor,
		bus:         bus,
		log:         log.With("module", "cli"),
		closers:     closers,
		reader:      bufio.NewReader(os.Stdin),
		out:         os.Stdout,
	}, nil
}

func closeAll(cs []io.Closer) {
	for i := len(cs) - 1; i >= 0; i-- {
		_ = cs[i].Close()
	}
}

// Close releases the database, the probe connection and the log file.
func (a *App) Close() {
	closeAll(a.closers)
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	changed := a.Mode != mode
	a.Mode = mode
	a.mu.Unlock()

	if changed && a.log != nil {
		a.log.Info(context.Background(), "switched mode", "mode", mode)
	}
}

func (a *App) mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Mode
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.UserID != ""
}

func (a *App) userID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.UserID
}

func (a *App) getStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := ""
	if a.userName != "" {
		s = a.userName + " "
	}
	if a.Mode != "" {
		s = s + string(a.Mode)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Run probes the server once, asks for credentials and then serves the REPL
// until the user exits. Background work stops when Run returns.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer a.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	a.mu.Lock()
	a.runCtx, a.wg = ctx, &wg
	a.mu.Unlock()

	notifications, stop := a.bus.Subscribe(0)
	defer stop()
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.printEvents(ctx, notifications)
	}()

	a.monitor.Check(ctx)
	a.followConnectivity(ctx, &wg)

	printlnFn("Shopkeeper client (type 'help' for commands)")
	_ = a.Login(ctx)

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

func (a *App) followConnectivity(ctx context.Context, wg *sync.WaitGroup) {
	changes, stopWatch := a.monitor.Watch()
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.monitor.Run(ctx, a.config.OnlineCheckInterval)
	}()
	go func() {
		defer wg.Done()
		defer stopWatch()
		for {
			select {
			case online := <-changes:
				if !a.isLoggedIn() {
					continue
				}
				if online {
					a.setMode(ModeOnline)
				} else {
					a.setMode(ModeOffline)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// startBackground rebuilds the queue from the cache and starts the drain and
// cleanup loops for the signed-in user. Without Run it does nothing.
func (a *App) startBackground() {
	a.mu.Lock()
	parent, wg := a.runCtx, a.wg
	if parent == nil || a.bgCancel != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	a.bgCancel = cancel
	uid := a.session.UserID
	a.mu.Unlock()

	if _, err := a.sync.Rebuild(ctx, uid); err != nil {
		a.log.Error(ctx, "queue rebuild failed", "error", err)
	}
	if _, err := a.trash.Rebuild(ctx, uid); err != nil {
		a.log.Error(ctx, "trash queue rebuild failed", "error", err)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.sync.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.trash.RunCleanup(ctx, uid, a.config.CleanupInterval)
	}()
}

func (a *App) stopBackground() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bgCancel != nil {
		a.bgCancel()
		a.bgCancel = nil
	}
}
