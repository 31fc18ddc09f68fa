package libvirt

import (
	"fmt"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVolumeFormat(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name      string
		desc      string
		expect    string
		expectErr bool
	}{
		{
			name: "qcow2",
			desc: `<volume type='file'>
  <name>vol-1</name>
  <target>
    <path>/var/lib/libvirt/images/vol-1</path>
    <format type='qcow2'/>
  </target>
</volume>`,
			expect: "qcow2",
		},
		{
			name:   "missing format is raw",
			desc:   `<volume><name>vol-2</name><target><path>/dev/vg0/vol-2</path></target></volume>`,
			expect: "raw",
		},
		{
			name:      "invalid xml",
			desc:      `<volume>`,
			expectErr: true,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseVolumeFormat(tc.desc)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestFormatLibvirtVersion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "8.3.0", formatLibvirtVersion(8003000))
	assert.Equal(t, "10.0.1", formatLibvirtVersion(10000001))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("lookup volume: %w", ErrNotFound)))
	assert.True(t, IsNotFound(fmt.Errorf("lookup volume: %w", libvirt.Error{Code: uint32(libvirt.ErrNoStorageVol)})))
	assert.False(t, IsNotFound(fmt.Errorf("lookup volume: %w", libvirt.Error{Code: uint32(libvirt.ErrInternalError)})))
	assert.False(t, IsNotFound(nil))
}
