package app

import (
	"fmt"

	ingestUseCase "github.com/allisson/mqingest/internal/ingest/usecase"
	messageRepo "github.com/allisson/mqingest/internal/message/repository"
	messageUseCase "github.com/allisson/mqingest/internal/message/usecase"
)

// messageRepository is the message store as seen by both the ingest writer
// and the operator use case.
type messageRepository interface {
	ingestUseCase.MessageRepository
	messageUseCase.MessageRepository
}

// MessageRepository returns the message repository for the configured database driver.
func (c *Container) MessageRepository() (messageRepository, error) {
	var err error
	c.messageRepositoryInit.Do(func() {
		c.messageRepository, err = c.initMessageRepository()
		if err != nil {
			c.initErrors["messageRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["messageRepository"]; exists {
		return nil, storedErr
	}
	return c.messageRepository, nil
}

// MessageUseCase returns the operator message use case.
func (c *Container) MessageUseCase() (messageUseCase.MessageUseCase, error) {
	var err error
	c.messageUseCaseInit.Do(func() {
		c.messageUseCase, err = c.initMessageUseCase()
		if err != nil {
			c.initErrors["messageUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["messageUseCase"]; exists {
		return nil, storedErr
	}
	return c.messageUseCase, nil
}

func (c *Container) initMessageRepository() (messageRepository, error) {
	if err := checkDriver(c.config.DBDriver); err != nil {
		return nil, err
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for message repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return messageRepo.NewMySQLMessageRepository(db), nil
	default:
		return messageRepo.NewPostgreSQLMessageRepository(db), nil
	}
}

func (c *Container) initMessageUseCase() (messageUseCase.MessageUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for message use case: %w", err)
	}

	repo, err := c.MessageRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get message repository for message use case: %w", err)
	}

	baseUseCase := messageUseCase.NewMessageUseCase(txManager, repo)

	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for message use case: %w", err)
		}
		return messageUseCase.NewMessageUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}

// checkDriver rejects drivers without a repository before any connection is attempted.
func checkDriver(driver string) error {
	switch driver {
	case "postgres", "mysql":
		return nil
	default:
		return fmt.Errorf("unsupported database driver: %s", driver)
	}
}
