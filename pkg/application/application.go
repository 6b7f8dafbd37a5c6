package application

import (
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/cveteval/pkg/eventbus"
)

type Controller interface {
	Register(r *mux.Router)
	Key() string
}

// Module registers its controllers, middleware and event handlers on an application.
type Module interface {
	Register(app Application) error
	Name() string
}

type Application interface {
	DB() *pgxpool.Pool
	EventPublisher() eventbus.EventBus
	Logger() *logrus.Logger
	Controllers() []Controller
	Middleware() []mux.MiddlewareFunc
	RegisterControllers(controllers ...Controller)
	RegisterMiddleware(middleware ...mux.MiddlewareFunc)
}

type ApplicationOptions struct {
	Pool     *pgxpool.Pool
	EventBus eventbus.EventBus
	Logger   *logrus.Logger
}

func New(opts *ApplicationOptions) Application {
	bus := opts.EventBus
	if bus == nil {
		bus = eventbus.NewEventPublisher(opts.Logger)
	}
	return &application{
		pool:     opts.Pool,
		eventBus: bus,
		logger:   opts.Logger,
	}
}

type application struct {
	pool        *pgxpool.Pool
	eventBus    eventbus.EventBus
	logger      *logrus.Logger
	controllers map[string]Controller
	order       []string
	middleware  []mux.MiddlewareFunc
}

func (app *application) DB() *pgxpool.Pool {
	return app.pool
}

func (app *application) EventPublisher() eventbus.EventBus {
	return app.eventBus
}

func (app *application) Logger() *logrus.Logger {
	return app.logger
}

// RegisterControllers replaces a previously registered controller with the same key.
func (app *application) RegisterControllers(controllers ...Controller) {
	if app.controllers == nil {
		app.controllers = map[string]Controller{}
	}
	for _, c := range controllers {
		if _, ok := app.controllers[c.Key()]; !ok {
			app.order = append(app.order, c.Key())
		}
		app.controllers[c.Key()] = c
	}
}

func (app *application) RegisterMiddleware(middleware ...mux.MiddlewareFunc) {
	app.middleware = append(app.middleware, middleware...)
}

func (app *application) Controllers() []Controller {
	out := make([]Controller, 0, len(app.order))
	for _, key := range app.order {
		out = append(out, app.controllers[key])
	}
	return out
}

func (app *application) Middleware() []mux.MiddlewareFunc {
	return app.middleware
}
