package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	appconfig "exchangecatalog/config"
	"exchangecatalog/logger"
	"exchangecatalog/models"
	"exchangecatalog/processor"
)

// Sample captures target once and wraps every payload as a raw message ready
// for the normalizer.
func (c *Client) Sample(ctx context.Context, target appconfig.Target) ([]processor.RawMessage, error) {
	dt, err := models.ParseDataType(target.DataType)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target.Vendor, err)
	}
	src, err := models.ParseRequestSource(target.Source)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target.Vendor, err)
	}

	var payloads [][]byte
	switch src {
	case models.SourceREST:
		body, err := c.FetchREST(ctx, target.URL)
		if err != nil {
			return nil, err
		}
		payloads = [][]byte{body}
	case models.SourceWebSocket:
		if payloads, err = c.CaptureWebSocket(ctx, target.URL, target.Subscribe, c.config.MaxMessages); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	out := make([]processor.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, processor.RawMessage{
			ID:         uuid.NewString(),
			Vendor:     target.Vendor,
			DataType:   dt,
			Source:     src,
			Payload:    p,
			Vars:       target.Vars,
			ReceivedAt: now,
		})
	}
	logger.LogDataFlowEntry(c.log.WithComponent("reader").WithFields(logger.Fields{"vendor": target.Vendor}),
		string(src), "processor", len(out), "raw_messages")
	return out, nil
}

// SampleAll captures every target, logging and skipping the ones that fail.
// It returns an error only when nothing was captured.
func (c *Client) SampleAll(ctx context.Context, targets []appconfig.Target) ([]processor.RawMessage, error) {
	var out []processor.RawMessage
	var lastErr error
	for _, tg := range targets {
		msgs, err := c.Sample(ctx, tg)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			lastErr = err
			c.log.WithComponent("reader").WithError(err).WithFields(logger.Fields{
				"vendor": tg.Vendor,
				"url":    tg.URL,
			}).Warn("failed to capture sample")
			continue
		}
		out = append(out, msgs...)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}
