package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	gen := New()
	assert.NotNil(t, gen)
	assert.NotNil(t, gen.sf)
}

func TestGenerateIDs(t *testing.T) {
	t.Parallel()

	gen := New()

	testcases := []struct {
		name     string
		generate func() (string, error)
		prefix   string
	}{
		{
			name:     "volume ID",
			generate: gen.GenerateVolumeID,
			prefix:   "vol-",
		},
		{
			name:     "attachment ID",
			generate: gen.GenerateAttachmentID,
			prefix:   "att-",
		},
		{
			name:     "default generator attachment ID",
			generate: GenerateAttachmentID,
			prefix:   "att-",
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			id, err := tc.generate()
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(id, tc.prefix), "unexpected id %s", id)
			assert.Greater(t, len(id), len(tc.prefix))
		})
	}
}

func TestGenerateAttachmentID_Unique(t *testing.T) {
	t.Parallel()

	gen := New()
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		ids = make(map[string]bool)
	)

	// 并发生成，确保唯一
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id, err := gen.GenerateAttachmentID()
				assert.NoError(t, err)
				mu.Lock()
				assert.False(t, ids[id], "ID should be unique: %s", id)
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 200)
}

func TestDefaultGenerator_Singleton(t *testing.T) {
	t.Parallel()

	assert.Same(t, DefaultGenerator(), DefaultGenerator())
}
