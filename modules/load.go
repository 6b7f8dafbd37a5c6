package modules

import (
	"github.com/iota-uz/cveteval/modules/evaluation"
	"github.com/iota-uz/cveteval/pkg/application"
	"github.com/iota-uz/cveteval/pkg/configuration"
)

// BuiltInModules returns the modules every server registers.
func BuiltInModules(conf *configuration.Configuration) []application.Module {
	return []application.Module{
		evaluation.NewModule(&evaluation.ModuleOptions{Config: conf}),
	}
}

func Load(app application.Application, externalModules ...application.Module) error {
	for _, module := range externalModules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
