package app

import (
	"fmt"

	ingestUseCase "github.com/allisson/mqingest/internal/ingest/usecase"
)

// MessageReader returns the reader bound to the configured ingest queue.
func (c *Container) MessageReader() (ingestUseCase.MessageReader, error) {
	var err error
	c.messageReaderInit.Do(func() {
		c.messageReader, err = c.initMessageReader()
		if err != nil {
			c.initErrors["messageReader"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["messageReader"]; exists {
		return nil, storedErr
	}
	return c.messageReader, nil
}

// MessageWriter returns the transactional message writer.
func (c *Container) MessageWriter() (ingestUseCase.MessageWriter, error) {
	var err error
	c.messageWriterInit.Do(func() {
		c.messageWriter, err = c.initMessageWriter()
		if err != nil {
			c.initErrors["messageWriter"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["messageWriter"]; exists {
		return nil, storedErr
	}
	return c.messageWriter, nil
}

// IngestJob returns the ingest job.
func (c *Container) IngestJob() (ingestUseCase.JobUseCase, error) {
	var err error
	c.ingestJobInit.Do(func() {
		c.ingestJob, err = c.initIngestJob()
		if err != nil {
			c.initErrors["ingestJob"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["ingestJob"]; exists {
		return nil, storedErr
	}
	return c.ingestJob, nil
}

func (c *Container) initMessageReader() (ingestUseCase.MessageReader, error) {
	pool, err := c.BrokerPool()
	if err != nil {
		return nil, fmt.Errorf("failed to get broker pool for message reader: %w", err)
	}

	return ingestUseCase.NewMessageReader(ingestUseCase.ReaderConfig{
		QueueName:      c.config.IngestQueueName,
		ReceiveTimeout: c.config.IngestReceiveTimeout,
		Prefetch:       c.config.ReaderPrefetch(),
	}, pool, c.Logger()), nil
}

func (c *Container) initMessageWriter() (ingestUseCase.MessageWriter, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for message writer: %w", err)
	}

	repo, err := c.MessageRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get message repository for message writer: %w", err)
	}

	return ingestUseCase.NewMessageWriter(txManager, repo, c.Logger()), nil
}

func (c *Container) initIngestJob() (ingestUseCase.JobUseCase, error) {
	reader, err := c.MessageReader()
	if err != nil {
		return nil, fmt.Errorf("failed to get message reader for ingest job: %w", err)
	}

	writer, err := c.MessageWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to get message writer for ingest job: %w", err)
	}

	var diverter ingestUseCase.Diverter
	if c.config.BackoutDivertEnabled {
		backout, err := c.BackoutUseCase()
		if err != nil {
			return nil, fmt.Errorf("failed to get backout use case for ingest job: %w", err)
		}
		diverter = backout
	}

	job := ingestUseCase.NewJob(ingestUseCase.JobConfig{
		ChunkSize:    c.config.IngestChunkSize,
		DivertFailed: c.config.BackoutDivertEnabled,
		Interval:     c.config.IngestInterval,
	}, reader, ingestUseCase.NewMessageProcessor(), writer, diverter, c.Logger())

	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for ingest job: %w", err)
		}
		return ingestUseCase.NewJobUseCaseWithMetrics(job, businessMetrics, c.config.IngestQueueName), nil
	}

	return job, nil
}
