package dbtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type counter struct{ n int }

func (c *counter) Snapshot() func() {
	saved := c.n
	return func() { c.n = saved }
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	c := &counter{n: 1}
	tx := NewTransactor(c)

	err := tx.WithTx(context.Background(), func(ctx context.Context) error {
		c.n = 5
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, c.n)
	assert.Equal(t, 1, tx.Rollbacks())
}

func TestTransactor_CommitsAndNests(t *testing.T) {
	c := &counter{}
	tx := NewTransactor(c)

	err := tx.WithTx(context.Background(), func(ctx context.Context) error {
		c.n++
		return tx.WithTx(ctx, func(ctx context.Context) error {
			c.n++
			return nil
		})
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, c.n)
	assert.Equal(t, 1, tx.Commits())
}
