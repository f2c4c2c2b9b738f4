package stepflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	"github.com/RealZimboGuy/stepflow/internal/config"
	"github.com/RealZimboGuy/stepflow/internal/controllers"
	"github.com/RealZimboGuy/stepflow/internal/definitions"
	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/handlers"
	"github.com/RealZimboGuy/stepflow/internal/migrations"
	"github.com/RealZimboGuy/stepflow/internal/repository"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

// Types an embedding program needs to plug in its own step code.
type (
	StepRequest = engine.StepRequest
	Function    = handlers.Function
	Message     = handlers.Message
	Notifier    = handlers.Notifier
	Event       = engine.Event
)

type Options struct {
	// Mux receives the API routes. A new one is created when nil.
	Mux *http.ServeMux
	// Functions are callable from function steps by name.
	Functions map[string]Function
	// Notifier delivers notification, email and sms steps. Defaults to logging them.
	Notifier Notifier
	Clock    core.Clock
	// Events, when set, are dispatched to the trigger registry in-process until
	// the channel is closed.
	Events <-chan Event
}

// Start boots the engine and the HTTP server and blocks until ctx is cancelled
// or the server fails.
func Start(ctx context.Context, opts Options) error {
	if opts.Clock == nil {
		opts.Clock = core.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = handlers.LogNotifier{}
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	definitionRepo := repository.NewWorkflowDefinitionRepository(db)
	instanceRepo := repository.NewWorkflowInstanceRepository(db)
	taskRepo := repository.NewApprovalTaskRepository(db)
	actionRepo := repository.NewInstanceActionRepository(db)
	userRepo := repository.NewUserRepository(db, opts.Clock)

	evaluator := condition.New(condition.WithMaxDepth(config.GetSystemSettingInteger(config.CONDITION_MAX_DEPTH)))
	functions := handlers.NewFunctionRegistry()
	for name, fn := range opts.Functions {
		functions.Register(name, fn)
	}
	registry, err := newHandlerRegistry(evaluator, opts.Clock, functions, opts.Notifier)
	if err != nil {
		return err
	}

	wfManager := engine.NewWorkflowManager(definitionRepo, instanceRepo, taskRepo, actionRepo, registry, opts.Clock,
		engine.WithEvaluator(evaluator))

	if err := bootstrapAdmin(ctx, userRepo); err != nil {
		return err
	}
	if dir := config.GetSystemSettingString(config.DEFINITIONS_DIR); dir != "" {
		if _, err := definitions.LoadDir(ctx, wfManager, dir); err != nil {
			slog.ErrorContext(ctx, "Some definition files were not loaded", "dir", dir, "error", err)
		}
	}

	engineCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		wfManager.StartEngine(engineCtx, config.GetSystemSettingDuration(config.ENGINE_EXPIRY_SWEEP_INTERVAL))
	}()
	if opts.Events != nil {
		go wfManager.Triggers().Consume(engineCtx, opts.Events)
	}

	mux := opts.Mux
	if mux == nil {
		mux = http.NewServeMux()
	}
	controllers.NewDefinitionsController(wfManager, userRepo).RegisterRoutes(mux)
	controllers.NewInstancesController(wfManager, userRepo).RegisterRoutes(mux)
	controllers.NewApprovalsController(wfManager, userRepo).RegisterRoutes(mux)
	controllers.NewEventsController(wfManager, userRepo).RegisterRoutes(mux)
	controllers.NewHandlersController(wfManager, functions, userRepo).RegisterRoutes(mux)
	controllers.NewUsersController(userRepo).RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err = <-serverErr:
		slog.Error("HTTP server failed", "error", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
	}
	stopEngine()
	<-engineDone
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newHandlerRegistry(evaluator *condition.Evaluator, clock core.Clock, functions *handlers.FunctionRegistry, notifier Notifier) (*engine.HandlerRegistry, error) {
	registry := engine.NewHandlerRegistry()
	err := handlers.RegisterDefaults(registry, evaluator, clock, handlers.Options{
		Notifier:       notifier,
		Functions:      functions,
		WebhookTimeout: config.GetSystemSettingDuration(config.WEBHOOK_TIMEOUT),
	})
	if err != nil {
		return nil, fmt.Errorf("register step handlers: %w", err)
	}
	return registry, nil
}

// Migrate applies the schema migrations of the configured database and exits.
func Migrate() error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	return db.Close()
}

// ValidateDefinitionFiles parses and validates definition files without a
// database. Every failing file is reported.
func ValidateDefinitionFiles(paths ...string) error {
	evaluator := condition.New(condition.WithMaxDepth(config.GetSystemSettingInteger(config.CONDITION_MAX_DEPTH)))
	registry, err := newHandlerRegistry(evaluator, core.NewRealClock(), handlers.NewFunctionRegistry(), handlers.LogNotifier{})
	if err != nil {
		return err
	}
	validator := engine.NewDefinitionValidator(evaluator, registry)

	var errs []error
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		req, err := definitions.ParseDefinitionYAML(data)
		if err == nil {
			err = validator.ValidateRequest(req)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		slog.Info("Definition is valid", "file", path, "name", req.Name, "steps", len(req.Steps))
	}
	return errors.Join(errs...)
}

// openDatabase migrates and opens the database named by SFLOW_DATABASE_TYPE.
func openDatabase() (*sql.DB, error) {
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_POSTGRES:
		return setupPostgresDatabase()
	case config.DATABASE_TYPE_SQLLITE:
		return setupSqlLiteDatabase()
	case config.DATABASE_TYPE_MYSQL:
		return setupMysqlDatabase()
	default:
		return nil, fmt.Errorf("%s must be set to one of the following values: POSTGRES, MYSQL, SQLLITE", config.DATABASE_TYPE)
	}
}

func setupPostgresDatabase() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the POSTGRES database type", config.DATABASE_URL)
	}
	slog.Info("Running migrations", "database", "postgres")
	if err := migrations.Up("postgres", dbURL); err != nil {
		return nil, fmt.Errorf("DB migration failed: %w", err)
	}
	slog.Info("Opening Postgres database")
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("DB connection failed: %w", err)
	}
	return db, nil
}

func setupSqlLiteDatabase() (*sql.DB, error) {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations", "database", "sqlite")
	if err := migrations.Up("sqllite3", "sqlite3://"+fileName); err != nil {
		return nil, fmt.Errorf("DB migration failed: %w", err)
	}
	db, err := sql.Open("sqlite3", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite DB: %w", err)
	}
	// one writer at a time, otherwise concurrent workers hit "database is locked"
	db.SetMaxOpenConns(1)
	return db, nil
}

func setupMysqlDatabase() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the MYSQL database type", config.DATABASE_URL)
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		return nil, fmt.Errorf("%s must contain 'parseTime=true' for MySQL", config.DATABASE_URL)
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		return nil, fmt.Errorf("%s must start with 'mysql://' for MySQL", config.DATABASE_URL)
	}

	// the migration files hold several statements each
	migrateURL := dbURL
	if !strings.Contains(migrateURL, "multiStatements=true") {
		migrateURL += "&multiStatements=true"
	}
	slog.Info("Running migrations", "database", "mysql")
	if err := migrations.Up("mysql", migrateURL); err != nil {
		return nil, fmt.Errorf("DB migration failed: %w", err)
	}
	slog.Info("Opening MySQL database")
	db, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		return nil, fmt.Errorf("DB connection failed: %w", err)
	}
	return db, nil
}

// bootstrapAdmin creates the configured admin user on first start.
func bootstrapAdmin(ctx context.Context, users engine.UserRepo) error {
	username := config.GetSystemSettingString(config.ADMIN_USERNAME)
	if username == "" {
		return nil
	}
	existing, err := users.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("look up admin user: %w", err)
	}
	if existing != nil {
		return nil
	}

	admin := &domain.User{Username: username, Admin: true}
	if password := config.GetSystemSettingString(config.ADMIN_PASSWORD); password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		admin.Password = string(hash)
	}
	if apiKey := config.GetSystemSettingString(config.ADMIN_API_KEY); apiKey != "" {
		admin.ApiKey = sql.NullString{String: apiKey, Valid: true}
	}
	if _, err := users.Save(ctx, admin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	slog.InfoContext(ctx, "Admin user created", "username", username)
	return nil
}

// SetupLogger installs a tint handler at the level named by SFLOW_LOG_LEVEL.
func SetupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.GetSystemSettingString(config.LOG_LEVEL))); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
