package mastery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-labs-inc/boss/internal/registry"
	"github.com/risa-labs-inc/boss/internal/resolver"
)

func TestComposeChainsMatchedCapabilities(t *testing.T) {
	reg := newRegistryWith(
		&echoResolver{name: "fetcher", capability: "web.fetch"},
		&echoResolver{name: "summarizer", capability: "text.summarize"},
	)
	c := NewComposer(reg)

	plan, err := c.Compose(context.Background(), "Please web.fetch the page, then text.summarize it.")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Empty(t, plan.Steps[0].DependsOn)
	assert.Equal(t, []string{plan.Steps[0].Name}, plan.Steps[1].DependsOn)
}

func TestComposeFailsWithNoMatch(t *testing.T) {
	reg := registry.New()
	c := NewComposer(reg)
	_, err := c.Compose(context.Background(), "summarize a document")
	assert.ErrorIs(t, err, ErrNoCapabilityMatch)
}

func TestComposePlanNameIsStableHash(t *testing.T) {
	reg := newRegistryWith(&echoResolver{name: "fetcher", capability: "web.fetch"})
	c := NewComposer(reg)

	p1, err := c.Compose(context.Background(), "web.fetch it")
	require.NoError(t, err)
	p2, err := c.Compose(context.Background(), "web.fetch it")
	require.NoError(t, err)
	assert.Equal(t, p1.Name, p2.Name)
	assert.Equal(t, resolver.Version{Major: 1}, p1.Version)
}
