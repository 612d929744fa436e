package file

import (
	"os"
	"path/filepath"
	"plfsio/utils"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestManifest(t *testing.T, dir string) string {
	m := &Manifest{
		LgParts:    2,
		UniqueKeys: true,
		Epochs: [][]EpochHandle{
			{{Off: 0, Len: 24}, {Off: 0, Len: 24}, {Off: 0, Len: 24}, {Off: 0, Len: 24}},
			{{Off: 24, Len: 40}, {Off: 24, Len: 40}, {Off: 24, Len: 40}, {Off: 24, Len: 40}},
		},
	}
	name := filepath.Join(dir, utils.ManifestFilename)
	require.NoError(t, WriteManifest(DefaultEnv(), name, m))
	return name
}

// TestManifestRoundTrip 写入再读回，内容一致
func TestManifestRoundTrip(t *testing.T) {
	name := writeTestManifest(t, t.TempDir())
	m, err := ReadManifest(DefaultEnv(), name)
	require.NoError(t, err)
	require.Equal(t, uint32(2), m.LgParts)
	require.True(t, m.UniqueKeys)
	require.False(t, m.FixedKV)
	require.Len(t, m.Epochs, 2)
	require.Equal(t, EpochHandle{Off: 24, Len: 40}, m.Epochs[1][3])
}

func helpTestManifestCorruption(t *testing.T, off int64, errKind error) {
	name := writeTestManifest(t, t.TempDir())
	fp, err := os.OpenFile(name, os.O_RDWR, 0)
	require.NoError(t, err)
	// 写入一个错误的值
	_, err = fp.WriteAt([]byte{'X'}, off)
	require.NoError(t, err)
	require.NoError(t, fp.Close())

	_, err = ReadManifest(DefaultEnv(), name)
	require.ErrorIs(t, err, errKind)
}

func TestManifestMagic(t *testing.T) {
	helpTestManifestCorruption(t, 3, utils.ErrCorruption)
}

func TestManifestChecksum(t *testing.T) {
	helpTestManifestCorruption(t, 33, utils.ErrCorruption)
}

// TestManifestVersion 未知版本要报NotSupported
func TestManifestVersion(t *testing.T) {
	name := writeTestManifest(t, t.TempDir())
	raw, err := os.ReadFile(name)
	require.NoError(t, err)
	// 手工改版本号并补crc
	raw[8] = 99
	body := raw[:len(raw)-4]
	copy(raw[len(raw)-4:], utils.Uint32ToBytes(utils.CalculateChecksum(body)))
	require.NoError(t, os.WriteFile(name, raw, utils.DefaultFileMode))

	_, err = ReadManifest(DefaultEnv(), name)
	require.ErrorIs(t, err, utils.ErrNotSupported)
}

// TestLogFileBuffering 缓冲没到水位不落盘，Flush之后全量可见
func TestLogFileBuffering(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "partition_0.data")
	fp, err := DefaultEnv().CreateAppendFile(name)
	require.NoError(t, err)
	lf := NewLogFile(fp, 1024, 512)

	payload := make([]byte, 100)
	require.NoError(t, lf.Append(payload))
	require.Equal(t, int64(100), lf.Offset())
	st, err := os.Stat(name)
	require.NoError(t, err)
	require.Equal(t, int64(0), st.Size())

	require.NoError(t, lf.Flush())
	st, err = os.Stat(name)
	require.NoError(t, err)
	require.Equal(t, int64(100), st.Size())

	// 超过水位自动落盘
	require.NoError(t, lf.Append(make([]byte, 600)))
	st, err = os.Stat(name)
	require.NoError(t, err)
	require.Equal(t, int64(700), st.Size())
	require.NoError(t, lf.Close())
}
