package flow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/meikuraledutech/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_CreateFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	f, err := h.pub.CreateFlow(ctx, "Pizza", pizza("pizza"))
	require.NoError(t, err)
	assert.Equal(t, "pizza", f.ID)
	assert.Empty(t, f.ActiveVersionID)
	assert.Zero(t, f.LastVersion)

	_, err = h.pub.CreateFlow(ctx, "Again", pizza("pizza"))
	assert.ErrorIs(t, err, flow.ErrConflict)

	g := pizza("")
	anon, err := h.pub.CreateFlow(ctx, "Anonymous", g)
	require.NoError(t, err)
	assert.NotEmpty(t, anon.ID)
	assert.Equal(t, anon.ID, anon.Draft.ID)

	_, err = h.pub.Flow(ctx, "ghost")
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
}

func TestPublisher_UpdateDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.pub.CreateFlow(ctx, "Pizza", pizza("pizza"))
	require.NoError(t, err)

	broken := pizza("whatever")
	broken.Nodes = broken.Nodes[:2]
	broken.Edges = broken.Edges[:1]
	res, err := h.pub.UpdateDraft(ctx, "pizza", broken)
	require.NoError(t, err, "invalid drafts are still saved")
	assert.False(t, res.OK)

	f, err := h.pub.Flow(ctx, "pizza")
	require.NoError(t, err)
	assert.Equal(t, "pizza", f.Draft.ID, "the draft id follows the flow")
	assert.Len(t, f.Draft.Nodes, 2)

	res, err = h.pub.ValidateDraft(ctx, "pizza")
	require.NoError(t, err)
	assert.False(t, res.OK)

	_, err = h.pub.UpdateDraft(ctx, "ghost", pizza("ghost"))
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)
}

func TestPublisher_PublishInvalid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	g := pizza("pizza")
	g.Nodes = g.Nodes[:2]
	g.Edges = g.Edges[:1]
	_, err := h.pub.CreateFlow(ctx, "Pizza", g)
	require.NoError(t, err)

	_, err = h.pub.Publish(ctx, "pizza", "tester", "")
	require.ErrorIs(t, err, flow.ErrInvalidGraph)
	var verr *flow.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.NotEmpty(t, verr.Issues)

	versions, err := h.pub.Versions(ctx, "pizza")
	require.NoError(t, err)
	assert.Empty(t, versions, "a rejected publish creates no version")
}

func TestPublisher_PublishSnapshots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.pub.CreateFlow(ctx, "Pizza", pizza("pizza"))
	require.NoError(t, err)

	v1, err := h.pub.Publish(ctx, "pizza", "ana", "first")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Number)
	assert.Equal(t, "ana", v1.CreatedBy)
	assert.Equal(t, "first", v1.Changelog)
	sum, err := flow.Checksum(pizza("pizza"))
	require.NoError(t, err)
	assert.Equal(t, sum, v1.Checksum)

	// Later draft edits never reach a published version.
	edited := pizza("pizza")
	edited.Nodes[1].Data = flow.YesNoData{Prompt: "Like pineapple?"}
	_, err = h.pub.UpdateDraft(ctx, "pizza", edited)
	require.NoError(t, err)

	stored, err := h.pub.Version(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.YesNoData{Prompt: "Like pizza?"}, stored.Graph.Nodes[1].Data)

	v2, err := h.pub.Publish(ctx, "pizza", "ana", "pineapple")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Number)
	assert.NotEqual(t, v1.Checksum, v2.Checksum)

	f, err := h.pub.Flow(ctx, "pizza")
	require.NoError(t, err)
	assert.Empty(t, f.ActiveVersionID, "publishing does not activate")
	assert.Equal(t, 2, f.LastVersion)

	versions, err := h.pub.Versions(ctx, "pizza")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Number)
	assert.Equal(t, 2, versions[1].Number)

	_, err = h.pub.Version(ctx, "ghost")
	assert.ErrorIs(t, err, flow.ErrVersionNotFound)
}

func TestPublisher_ActivateAndUnpublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flowID, v1 := h.live(t, pizza("pizza"))
	otherID, other := h.live(t, pizza("other"))
	require.NotEqual(t, flowID, otherID)

	_, err := h.pub.Activate(ctx, flowID, other.ID)
	assert.ErrorIs(t, err, flow.ErrVersionMismatch)
	_, err = h.pub.Activate(ctx, flowID, "ghost")
	assert.ErrorIs(t, err, flow.ErrVersionNotFound)
	_, err = h.pub.Activate(ctx, "ghost", v1.ID)
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)

	f, err := h.pub.Unpublish(ctx, flowID)
	require.NoError(t, err)
	assert.Empty(t, f.ActiveVersionID)

	again, err := h.pub.Unpublish(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, f, again, "unpublish is idempotent")

	// Rollback: any earlier version can be re-activated.
	v2, err := h.pub.Publish(ctx, flowID, "", "")
	require.NoError(t, err)
	_, err = h.pub.Activate(ctx, flowID, v2.ID)
	require.NoError(t, err)
	f, err = h.pub.Activate(ctx, flowID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, f.ActiveVersionID)

	stored, err := h.pub.Flow(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, stored.ActiveVersionID)
}

func TestPublisher_NumbersNeverReused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flowID, v1 := h.live(t, pizza("pizza"))

	_, err := h.pub.Unpublish(ctx, flowID)
	require.NoError(t, err)
	v2, err := h.pub.Publish(ctx, flowID, "", "")
	require.NoError(t, err)
	assert.Equal(t, v1.Number+1, v2.Number)
	assert.NotEqual(t, v1.ID, v2.ID)
}

func TestPublisher_ConcurrentPublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.pub.CreateFlow(ctx, "Pizza", pizza("pizza"))
	require.NoError(t, err)

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := h.pub.Publish(ctx, "pizza", "", "")
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	versions, err := h.pub.Versions(ctx, "pizza")
	require.NoError(t, err)
	require.Len(t, versions, n)
	for i, v := range versions {
		assert.Equal(t, i+1, v.Number)
	}
}
