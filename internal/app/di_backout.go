package app

import (
	"fmt"

	backoutUseCase "github.com/allisson/mqingest/internal/backout/usecase"
)

// BackoutUseCase returns the backout queue use case.
func (c *Container) BackoutUseCase() (backoutUseCase.BackoutUseCase, error) {
	var err error
	c.backoutUseCaseInit.Do(func() {
		c.backoutUseCase, err = c.initBackoutUseCase()
		if err != nil {
			c.initErrors["backoutUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["backoutUseCase"]; exists {
		return nil, storedErr
	}
	return c.backoutUseCase, nil
}

func (c *Container) initBackoutUseCase() (backoutUseCase.BackoutUseCase, error) {
	pool, err := c.BrokerPool()
	if err != nil {
		return nil, fmt.Errorf("failed to get broker pool for backout use case: %w", err)
	}

	baseUseCase := backoutUseCase.NewBackoutUseCase(backoutUseCase.Config{
		Suffix:     c.config.BackoutSuffix,
		MaxRetries: c.config.BackoutMaxRetries,
		RatePerSec: c.config.BackoutReplayRatePerSec,
		Burst:      c.config.BackoutReplayBurst,
	}, pool, c.Logger())

	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for backout use case: %w", err)
		}
		return backoutUseCase.NewBackoutUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}
