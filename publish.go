package flow

import (
	"context"
	"fmt"
)

// Publisher owns the draft → version → active lifecycle of flows. Operations
// on the same flow are serialized; different flows proceed independently.
type Publisher struct {
	store FlowStore
	opts  Options
	locks *keyedMutex
}

// NewPublisher creates a Publisher over store.
func NewPublisher(store FlowStore, opts Options) *Publisher {
	return &Publisher{store: store, opts: opts.withDefaults(), locks: newKeyedMutex()}
}

// CreateFlow stores a new unpublished flow. The draft's ID becomes the flow
// ID; one is generated when it is empty.
func (p *Publisher) CreateFlow(ctx context.Context, name string, draft Graph) (*Flow, error) {
	if draft.ID == "" {
		draft.ID = p.opts.NewID()
	}
	now := p.opts.Now()
	f := &Flow{
		ID:        draft.ID,
		Name:      name,
		Draft:     draft.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateFlow(ctx, f); err != nil {
		return nil, err
	}
	p.opts.Logger.Infof("flow %s created", f.ID)
	return f, nil
}

// Flow returns the flow with its current draft.
func (p *Publisher) Flow(ctx context.Context, flowID string) (*Flow, error) {
	f, err := p.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}
	return f, nil
}

// UpdateDraft replaces the draft. Drafts may be invalid while being edited,
// so the draft is stored either way and the validation result returned.
func (p *Publisher) UpdateDraft(ctx context.Context, flowID string, draft Graph) (ValidationResult, error) {
	unlock := p.locks.Lock(flowID)
	defer unlock()

	if _, err := p.Flow(ctx, flowID); err != nil {
		return ValidationResult{}, err
	}
	draft = draft.Clone()
	draft.ID = flowID
	if err := p.store.SaveDraft(ctx, flowID, draft); err != nil {
		return ValidationResult{}, err
	}
	return Validate(&draft), nil
}

// ValidateDraft validates the stored draft.
func (p *Publisher) ValidateDraft(ctx context.Context, flowID string) (ValidationResult, error) {
	f, err := p.Flow(ctx, flowID)
	if err != nil {
		return ValidationResult{}, err
	}
	return Validate(&f.Draft), nil
}

// Publish snapshots the draft into a new version. A draft with hard
// validation errors creates nothing and yields a *ValidationError.
func (p *Publisher) Publish(ctx context.Context, flowID, createdBy, changelog string) (*Version, error) {
	unlock := p.locks.Lock(flowID)
	defer unlock()

	f, err := p.Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if res := Validate(&f.Draft); !res.OK {
		p.opts.Metrics.publish("invalid")
		p.opts.Logger.Warnf("flow %s: publish rejected with %d errors", flowID, len(res.Errors))
		return nil, res.Err()
	}

	existing, err := p.store.ListVersions(ctx, flowID)
	if err != nil {
		return nil, err
	}
	number := f.LastVersion
	for _, v := range existing {
		if v.Number > number {
			number = v.Number
		}
	}
	number++

	snapshot := f.Draft.Clone()
	sum, err := Checksum(snapshot)
	if err != nil {
		return nil, err
	}
	v := &Version{
		ID:        p.opts.NewID(),
		FlowID:    flowID,
		Number:    number,
		Graph:     snapshot,
		Checksum:  sum,
		CreatedAt: p.opts.Now(),
		CreatedBy: createdBy,
		Changelog: changelog,
	}
	if err := p.store.AppendVersion(ctx, v); err != nil {
		p.opts.Metrics.publish("error")
		p.opts.Logger.Errorf("flow %s: append version %d: %v", flowID, number, err)
		return nil, err
	}
	p.opts.Metrics.publish("ok")
	p.opts.Logger.Infof("flow %s: published version %d (%s)", flowID, number, v.ID)
	return v, nil
}

// Activate points the flow at versionID. Sessions already running keep the
// version they started with.
func (p *Publisher) Activate(ctx context.Context, flowID, versionID string) (*Flow, error) {
	unlock := p.locks.Lock(flowID)
	defer unlock()

	f, err := p.Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	v, err := p.Version(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.FlowID != flowID {
		return nil, fmt.Errorf("%w: version %s belongs to flow %s", ErrVersionMismatch, versionID, v.FlowID)
	}
	if err := p.store.SetActiveVersion(ctx, flowID, versionID); err != nil {
		return nil, err
	}
	f.ActiveVersionID = versionID
	p.opts.Metrics.activation("activate")
	p.opts.Logger.Infof("flow %s: version %d (%s) is active", flowID, v.Number, versionID)
	return f, nil
}

// Unpublish clears the active version. History is kept and running sessions
// are unaffected. Unpublishing an unpublished flow changes nothing.
func (p *Publisher) Unpublish(ctx context.Context, flowID string) (*Flow, error) {
	unlock := p.locks.Lock(flowID)
	defer unlock()

	f, err := p.Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if f.ActiveVersionID == "" {
		return f, nil
	}
	if err := p.store.SetActiveVersion(ctx, flowID, ""); err != nil {
		return nil, err
	}
	f.ActiveVersionID = ""
	p.opts.Metrics.activation("unpublish")
	p.opts.Logger.Infof("flow %s unpublished", flowID)
	return f, nil
}

// Versions lists the flow's versions in ascending order.
func (p *Publisher) Versions(ctx context.Context, flowID string) ([]Version, error) {
	if _, err := p.Flow(ctx, flowID); err != nil {
		return nil, err
	}
	return p.store.ListVersions(ctx, flowID)
}

// Version returns a single version.
func (p *Publisher) Version(ctx context.Context, versionID string) (*Version, error) {
	v, err := p.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	return v, nil
}
