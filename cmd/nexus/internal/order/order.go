// Package order implements the order command, which prints the resolved
// startup order without starting anything.
package order

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/go-lynx/nexus"
	"github.com/go-lynx/nexus/cmd/nexus/internal/demo"
	"github.com/go-lynx/nexus/cmd/nexus/internal/run"
	"github.com/go-lynx/nexus/config"
	"github.com/go-lynx/nexus/discovery"
	"github.com/go-lynx/nexus/modules"
)

// CmdOrder represents the order command.
var CmdOrder = &cobra.Command{
	Use:   "order",
	Short: "Print the module startup order",
	RunE:  runOrder,
}

var conf string

func init() {
	CmdOrder.Flags().StringVarP(&conf, "conf", "c", "", "config file or directory")
}

func runOrder(cmd *cobra.Command, _ []string) error {
	store, closeStore, err := run.LoadStore(conf)
	if err != nil {
		return err
	}
	defer closeStore()

	names, err := Resolve(store, demo.Catalog(prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	for i, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, name)
	}
	return nil
}

// Resolve registers the enabled catalog modules and returns their startup
// order.
func Resolve(store config.Store, catalog *discovery.Catalog) ([]string, error) {
	candidates, err := catalog.Discover(store)
	if err != nil {
		return nil, err
	}
	o := nexus.New(nexus.WithConfig(store))
	for _, c := range candidates {
		modules.EnsureName(c.Module, c.Name)
		modules.EnsurePriority(c.Module, c.Priority)
		if err := o.RegisterModule(c.Module); err != nil {
			return nil, err
		}
	}
	return o.Order()
}
