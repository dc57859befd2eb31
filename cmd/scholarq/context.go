package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"scholarq/internal/config"
	"scholarq/internal/logging"
	"scholarq/internal/orchestrator"
	"scholarq/internal/queue"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	storeOnce sync.Once
	store     *queue.Store
	storeErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) ensureStore() (*queue.Store, error) {
	c.storeOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.storeErr = err
			return
		}
		c.store, c.storeErr = queue.Open(cfg)
	})
	return c.store, c.storeErr
}

func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	store, err := c.ensureStore()
	if err != nil {
		return err
	}
	return fn(store)
}

// withOrchestrator hands fn an orchestrator that is never started: it submits
// and observes tasks while a separate worker process executes them. Its records
// land in the shared log file so `scholarq logs` shows CLI submissions too.
func (c *commandContext) withOrchestrator(fn func(*orchestrator.Orchestrator) error) error {
	return c.withStore(func(store *queue.Store) error {
		logger, err := logging.NewFromConfig(c.config, true)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		orch, err := orchestrator.New(c.config, store, logger)
		if err != nil {
			return err
		}
		return fn(orch)
	})
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
