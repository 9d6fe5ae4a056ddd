package bootconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/platforminfo"
)

func testPlatform() platforminfo.Simulated {
	return platforminfo.Simulated{Type: bootparser.Pi4, HasType: true, MemoryMB: 1024}
}

func newSource(files map[string]string) bootparser.MapSource {
	src := bootparser.MapSource{}
	for name, content := range files {
		src[name] = bootparser.NewBootFile(name, src[name].Timestamp, []byte(content))
	}
	return src
}

func rootContent(t *testing.T, m *MutableConfiguration) string {
	t.Helper()
	f, ok := m.Files()["config.txt"]
	require.True(t, ok)
	return string(f.Content)
}

func TestRoundTripHashAndSettingsStable(t *testing.T) {
	src := newSource(map[string]string{"config.txt": "gpu_mem=128\ndtparam=i2c_arm=on\n"})
	a := New(src, testPlatform())
	b := New(src, testPlatform())
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, a.Settings().Get("gpu.mem").Value(a.Context()), b.Settings().Get("gpu.mem").Value(b.Context()))
}

func TestSettingValueIgnoresDisabledSection(t *testing.T) {
	src := newSource(map[string]string{
		"config.txt": "[pi4]\ngpu_mem=256\n[all]\ngpu_mem=128\n",
	})
	pi3 := platforminfo.Simulated{Type: bootparser.Pi3, HasType: true, MemoryMB: 1024}
	cfg := New(src, pi3)
	setting := cfg.Settings().Get("gpu.mem")
	assert.Equal(t, 128, setting.Value(cfg.Context()))
	// Both lines are still recorded, enabled or not.
	assert.Len(t, setting.Lines(), 2)
}

func TestSetOverlayParameterOnEmptyConfig(t *testing.T) {
	base := New(bootparser.MapSource{}, testPlatform())
	m := base.Mutable()
	err := m.Update(map[string]any{"i2c.enabled": true}, bootparser.Conditions{})
	require.NoError(t, err)
	content := rootContent(t, m)
	assert.Contains(t, content, "dtparam=i2c_arm=on\n")
}

func TestResetSettingRemovesLine(t *testing.T) {
	src := newSource(map[string]string{"config.txt": "hdmi_group=1\nhdmi_mode=4\n"})
	base := New(src, testPlatform())
	m := base.Mutable()
	err := m.Update(map[string]any{
		"video.hdmi0.group": nil,
		"video.hdmi0.mode":  nil,
	}, bootparser.Conditions{})
	require.NoError(t, err)
	assert.False(t, m.Settings().Get("video.hdmi0.group").Modified())
	assert.False(t, m.Settings().Get("video.hdmi0.mode").Modified())
	content := rootContent(t, m)
	assert.NotContains(t, content, "hdmi_group=1")
	assert.NotContains(t, content, "hdmi_mode=4")
}

func TestOverriddenSettingRaisesIneffectiveConfiguration(t *testing.T) {
	src := newSource(map[string]string{
		"config.txt": "include syscfg.txt\ninclude usercfg.txt\n",
		"usercfg.txt": "dtparam=spi=on\n",
	})
	base := New(src, testPlatform(), WithMutableFiles("syscfg.txt"))
	m := base.Mutable()
	err := m.Update(map[string]any{"spi.enabled": false}, bootparser.Conditions{})
	require.Error(t, err)
	var ineffective *bootctlerrors.IneffectiveConfigurationError
	require.ErrorAs(t, err, &ineffective)
	require.Len(t, ineffective.Overrides, 1)
	assert.Equal(t, "spi.enabled", ineffective.Overrides[0].Setting)
	assert.Equal(t, "usercfg.txt", ineffective.Overrides[0].File)
	assert.Equal(t, 1, ineffective.Overrides[0].Line)
}

func TestInvalidEnumRejectedPreWrite(t *testing.T) {
	base := New(bootparser.MapSource{}, testPlatform())
	m := base.Mutable()
	err := m.Update(map[string]any{
		"video.hdmi0.group": 1,
		"video.hdmi0.mode":  999,
	}, bootparser.Conditions{})
	require.Error(t, err)
	var invalid *bootctlerrors.InvalidConfigurationError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Errors, "video.hdmi0.mode")
	assert.Empty(t, m.Files())
}

func TestBitMaskedGroupEmitsSingleLine(t *testing.T) {
	base := New(bootparser.MapSource{}, testPlatform())
	m := base.Mutable()
	err := m.Update(map[string]any{
		"video.dpi.format":         7,
		"video.dpi.rgb":            2,
		"video.dpi.hsync.polarity": true,
		"video.dpi.enabled":        true,
	}, bootparser.Conditions{})
	require.NoError(t, err)
	content := rootContent(t, m)
	var dpiLines int
	for _, line := range bootparser.SplitLines([]byte(content)) {
		if line == "dpi_output_format=0x10027\n" {
			dpiLines++
		}
	}
	assert.Equal(t, 1, dpiLines)
	assert.Contains(t, content, "enable_dpi_lcd=1\n")
}

func TestUncommentIdempotence(t *testing.T) {
	src := newSource(map[string]string{"config.txt": "#gpu_mem=256\n"})
	base := New(src, testPlatform())
	m := base.Mutable()
	err := m.Update(map[string]any{"gpu.mem": 256}, bootparser.Conditions{})
	require.NoError(t, err)
	content := rootContent(t, m)
	assert.Equal(t, "gpu_mem=256\n", content)
}

func TestCommentLinesOptionCommentsInsteadOfDeleting(t *testing.T) {
	src := newSource(map[string]string{"config.txt": "gpu_mem=256\n"})
	base := New(src, testPlatform(), WithCommentLines(true))
	m := base.Mutable()
	err := m.Update(map[string]any{"gpu.mem": 128}, bootparser.Conditions{})
	require.NoError(t, err)
	content := rootContent(t, m)
	assert.Contains(t, content, "#gpu_mem=256\n")
	assert.Contains(t, content, "gpu_mem=128\n")
}

func TestImmutableFileIsNeverEdited(t *testing.T) {
	src := newSource(map[string]string{"config.txt": "gpu_mem=256\n"})
	base := New(src, testPlatform(), WithImmutable("config.txt"))
	m := base.Mutable()
	err := m.Update(map[string]any{"gpu.mem": 128}, bootparser.Conditions{})
	require.Error(t, err)
	var ineffective *bootctlerrors.IneffectiveConfigurationError
	require.ErrorAs(t, err, &ineffective)
	content := rootContent(t, m)
	assert.Contains(t, content, "gpu_mem=256\n")
}

func TestDefaultConfigurationIsEmpty(t *testing.T) {
	def := NewDefault(testPlatform())
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", def.Hash())
	assert.Empty(t, def.Files())
	assert.False(t, def.Settings().Get("gpu.mem").Modified())
}
