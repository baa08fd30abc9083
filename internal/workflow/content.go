package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// ContentResult is the outcome of GenerateContent.
type ContentResult struct {
	Draft storage.Draft `json:"draft"`
	Queue QueueResult   `json:"queue"`
}

// GenerateContent generates an original post about topic, filters it and
// queues it through the gateway. Text over the post limit is a toolkit
// error; text failing the safety filter is stored as a rejected draft and
// reported as a safety error.
func (e *Engine) GenerateContent(ctx context.Context, topic, actor string) (res *ContentResult, err error) {
	ctx, span := e.startSpan(ctx, "generate_content")
	span.SetAttributes(attribute.String("kestrel.topic", topic))
	defer func() { span.end(ctx, err) }()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, stepError("validate", KindToolkit, &toolkit.Error{Kind: toolkit.KindInvalidInput, Op: "generate_content", Message: "topic is required"})
	}
	recent, err := e.recentDraftTexts(ctx)
	if err != nil {
		return nil, err
	}

	text, err := e.generate(ctx, content.PromptContext{Kind: content.KindOriginal, Topic: topic, Keywords: e.scoring.Keywords})
	if err != nil {
		return nil, stepError("generate", KindGeneration, err)
	}
	d := e.newDraft(storage.DraftOriginal, text)
	d.Topic = topic
	if d.Text == "" {
		return nil, stepError("generate", KindGeneration, content.ErrEmptyOutput)
	}
	if err := toolkit.ValidateText("generate_content", d.Text); err != nil {
		return nil, stepError("validate", KindToolkit, err)
	}
	if reason := e.safety.check(d.Text, recent); reason != "" {
		d.Status = storage.DraftRejected
		d.Rejection = reason
		if err := e.store.SaveDraft(ctx, &d); err != nil {
			return nil, stepError("persist", KindStorage, err)
		}
		return &ContentResult{Draft: d}, stepError("safety", KindSafety, fmt.Errorf("%w: %s", ErrSafetyRejected, reason))
	}
	if err := e.store.SaveDraft(ctx, &d); err != nil {
		return nil, stepError("persist", KindStorage, err)
	}

	qr, err := e.queueDraft(ctx, d, actor)
	res = &ContentResult{Draft: d, Queue: qr}
	if stored, getErr := e.store.GetDraft(ctx, d.ID); getErr == nil {
		res.Draft = *stored
	}
	return res, err
}
