package evaluation

import (
	"time"

	"github.com/ulule/limiter/v3"

	"github.com/iota-uz/cveteval/modules/evaluation/export"
	"github.com/iota-uz/cveteval/modules/evaluation/handlers"
	"github.com/iota-uz/cveteval/modules/evaluation/importers"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/modules/evaluation/migration"
	"github.com/iota-uz/cveteval/modules/evaluation/presentation/controllers"
	"github.com/iota-uz/cveteval/modules/evaluation/services"
	"github.com/iota-uz/cveteval/pkg/application"
	"github.com/iota-uz/cveteval/pkg/configuration"
	"github.com/iota-uz/cveteval/pkg/eventbus"
	"github.com/iota-uz/cveteval/pkg/metrics"
	"github.com/iota-uz/cveteval/pkg/middleware"
)

// Services bundles everything built on top of one store. The HTTP module and
// the CLI share it.
type Services struct {
	Store     persistence.Store
	Repos     *persistence.Repositories
	Histories *services.HistoryService
	Users     *services.UserService
	Guard     *services.Guard
	Exporter  *export.Exporter
	Migrator  *migration.Migrator
	Wizard    *migration.Wizard
	Deps      importers.Deps
}

func NewServices(store persistence.Store, bus eventbus.EventBus, conf *configuration.Configuration, wizards migration.WizardStore) *Services {
	repos := persistence.NewRepositories(store)
	histories := services.NewHistoryService(repos, bus)
	users := services.NewUserService(repos)
	migrator := migration.NewMigrator(repos, bus)
	if wizards == nil {
		wizards = migration.NewMemoryWizardStore(conf.Wizard.TTL)
	}
	loc := conf.Import.Location()
	return &Services{
		Store:     store,
		Repos:     repos,
		Histories: histories,
		Users:     users,
		Guard:     services.NewGuard(repos),
		Exporter:  export.NewExporter(repos, loc),
		Migrator:  migrator,
		Wizard:    migration.NewWizard(repos, histories, migrator, wizards),
		Deps: importers.Deps{
			Repos:       repos,
			Users:       users,
			Cleaner:     histories,
			Publisher:   bus,
			Location:    loc,
			DateLayouts: []string{conf.Import.DateLayout, "02/01/2006 15:04", time.DateOnly, time.RFC3339},
		},
	}
}

type ModuleOptions struct {
	Config *configuration.Configuration
	// Store defaults to a Postgres store on the application pool.
	Store persistence.Store
	// WizardStore defaults to the store selected by the wizard configuration.
	WizardStore migration.WizardStore
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options  *ModuleOptions
	services *Services
}

func (m *Module) Register(app application.Application) error {
	conf := m.options.Config
	if conf == nil {
		conf = configuration.Use()
	}
	store := m.options.Store
	if store == nil {
		store = persistence.NewPgStore(app.DB())
	}
	wizards := m.options.WizardStore
	if wizards == nil {
		var err error
		if wizards, err = migration.NewWizardStore(conf.Wizard); err != nil {
			return err
		}
	}
	svc := NewServices(store, app.EventPublisher(), conf, wizards)
	m.services = svc

	handlers.RegisterEventHandlers(app.EventPublisher(), app.Logger())
	app.RegisterMiddleware(
		middleware.WithLogger(app.Logger(), conf, middleware.DefaultLoggerOptions()),
		middleware.TracedMiddleware("database"),
		middleware.ProvidePool(app.DB()),
		middleware.ProvideUser(conf.UserIDHeader),
		middleware.TracedMiddleware("cors"),
		middleware.Cors(conf.CORSOrigins...),
	)
	if conf.RateLimit.Enabled {
		store, err := rateLimitStore(conf.RateLimit)
		if err != nil {
			app.Logger().WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
			store = middleware.NewMemoryStore()
		}
		app.RegisterMiddleware(
			middleware.TracedMiddleware("rateLimit"),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerPeriod: conf.RateLimit.GlobalRPS,
				Store:             store,
			}),
		)
	}
	app.RegisterControllers(
		controllers.NewImportController(app, store, svc.Deps, svc.Histories, conf),
		controllers.NewHistoryController(app, svc.Histories, svc.Guard, svc.Exporter),
		controllers.NewWizardController(app, svc.Wizard),
	)
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}
	return nil
}

func rateLimitStore(opts configuration.RateLimitOptions) (limiter.Store, error) {
	if opts.Storage != "redis" {
		return middleware.NewMemoryStore(), nil
	}
	return middleware.NewRedisStore(opts.RedisURL)
}

// Services is nil until Register has run.
func (m *Module) Services() *Services {
	return m.services
}

func (m *Module) Name() string {
	return "evaluation"
}
