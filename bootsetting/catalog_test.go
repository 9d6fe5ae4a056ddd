package bootsetting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/platforminfo"
)

func newTestContext(t *testing.T, board bootparser.BoardType, memoryMB int) Context {
	t.Helper()
	reg := NewRegistry(Catalog())
	return Context{
		Registry: reg,
		Platform: platforminfo.Simulated{Type: board, HasType: true, MemoryMB: memoryMB},
	}
}

func TestCatalogDefaultsAreStable(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	for _, s := range ctx.Registry.All() {
		assert.NotPanics(t, func() { s.Value(ctx) }, s.Name())
	}
}

func TestI2CEnabledRoundTrip(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	i2c := ctx.Registry.Get("i2c.enabled")
	require.NotNil(t, i2c)
	lines := []bootparser.Line{
		bootparser.ParamLine{Overlay: "base", Param: "i2c_arm", Value: "on"},
	}
	i2c.Extract(lines, ctx)
	assert.True(t, i2c.Value(ctx).(bool))
	assert.True(t, i2c.Modified())
}

func TestGPUFreqGroupCollapsesWhenUniform(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	for _, name := range []string{"gpu.freq.core.max", "gpu.freq.h264.max", "gpu.freq.isp.max", "gpu.freq.v3d.max"} {
		require.NoError(t, ctx.Registry.Get(name).Update(500))
	}
	out := ctx.Registry.Get("gpu.freq.core.max").Output(ctx)
	require.Equal(t, []string{"gpu_freq=500"}, out.Lines)
	assert.Empty(t, ctx.Registry.Get("gpu.freq.h264.max").Output(ctx).Lines)
}

func TestGPUFreqGroupRendersIndividuallyWhenMixed(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	require.NoError(t, ctx.Registry.Get("gpu.freq.core.max").Update(500))
	require.NoError(t, ctx.Registry.Get("gpu.freq.h264.max").Update(400))
	out := ctx.Registry.Get("gpu.freq.core.max").Output(ctx)
	assert.Equal(t, []string{"core_freq=500"}, out.Lines)
	out = ctx.Registry.Get("gpu.freq.h264.max").Output(ctx)
	assert.Equal(t, []string{"h264_freq=400"}, out.Lines)
}

func TestDisplayRotateFlipDelegation(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	rotate := ctx.Registry.Get("display.lcd.rotate")
	flip := ctx.Registry.Get("display.lcd.flip")
	require.NoError(t, rotate.Update(90))
	require.NoError(t, flip.Update(2))
	flipOut := flip.Output(ctx)
	assert.Equal(t, "display.lcd.rotate", flipOut.Delegate)
	rotateOut := rotate.Output(ctx)
	assert.Equal(t, []string{"display_lcd_rotate=0x20001"}, rotateOut.Lines)
}

func TestHDMIHotplugForcePrecedence(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	hotplug := ctx.Registry.Get("hdmi.hotplug")
	lines := []bootparser.Line{
		bootparser.CommandLine{Command: "hdmi_force_hotplug", Params: "1"},
		bootparser.CommandLine{Command: "hdmi_ignore_hotplug", Params: "1"},
	}
	hotplug.Extract(lines, ctx)
	assert.Equal(t, true, hotplug.Value(ctx))
}

func TestGPUMemSizedOverrideWinsRegardlessOfOrder(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	mem := ctx.Registry.Get("gpu.mem")
	lines := []bootparser.Line{
		bootparser.CommandLine{Command: "gpu_mem_1024", Params: "128"},
		bootparser.CommandLine{Command: "gpu_mem", Params: "64"},
	}
	mem.Extract(lines, ctx)
	assert.Equal(t, 128, mem.Value(ctx))
}

func TestGPUMemValidateRejectsOverBoardMax(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi0, 256)
	mem := ctx.Registry.Get("gpu.mem")
	require.NoError(t, mem.Update(300))
	assert.Error(t, mem.Validate(ctx))
}

func TestFirmwareCameraRequiresGPUMem(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	require.NoError(t, ctx.Registry.Get("gpu.mem").Update(16))
	camera := ctx.Registry.Get("boot.firmware.camera")
	require.NoError(t, camera.Update(true))
	assert.Error(t, camera.Validate(ctx))
}

func TestFirmwareFilenameDefaultsFollowDebugFlag(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	require.NoError(t, ctx.Registry.Get("boot.firmware.debug").Update(true))
	assert.Equal(t, "start_db.elf", ctx.Registry.Get("boot.firmware.filename").Value(ctx))
	assert.Equal(t, "fixup_db.dat", ctx.Registry.Get("boot.firmware.fixup").Value(ctx))
}

func TestFirmwareFilenameDefaultsOnPi4(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi4, 2048)
	assert.Equal(t, "start4.elf", ctx.Registry.Get("boot.firmware.filename").Value(ctx))
}

func TestKernelAddressFollows64Bit(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	assert.Equal(t, 0x8000, ctx.Registry.Get("boot.kernel.address").Value(ctx))
	require.NoError(t, ctx.Registry.Get("boot.kernel.64bit").Update(true))
	assert.Equal(t, 0x80000, ctx.Registry.Get("boot.kernel.address").Value(ctx))
	assert.Equal(t, "kernel8.img", ctx.Registry.Get("boot.kernel.filename").Value(ctx))
}

func TestBluetoothEnabledDisabledByOverlay(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	bt := ctx.Registry.Get("bluetooth.enabled")
	lines := []bootparser.Line{bootparser.OverlayLine{Overlay: "disable-bt"}}
	bt.Extract(lines, ctx)
	assert.False(t, bt.Value(ctx).(bool))
	out := bt.Output(ctx)
	assert.Empty(t, out.Lines)

	require.NoError(t, bt.Update(true))
	out = bt.Output(ctx)
	assert.Empty(t, out.Lines)

	require.NoError(t, bt.Update(false))
	out = bt.Output(ctx)
	assert.Equal(t, []string{"dtoverlay=disable-bt"}, out.Lines)
}

func TestBootDelaySplitsWholeAndFractional(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	delay := ctx.Registry.Get("boot.delay")
	require.NoError(t, delay.Update(2.5))
	out := delay.Output(ctx)
	assert.ElementsMatch(t, []string{"boot_delay=2", "boot_delay_ms=500"}, out.Lines)
}

func TestDPIMaskGroupCombinesBits(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	format := ctx.Registry.Get("video.dpi.format")
	rgb := ctx.Registry.Get("video.dpi.rgb")
	require.NoError(t, format.Update(6))
	require.NoError(t, rgb.Update(1))
	out := format.Output(ctx)
	require.Len(t, out.Lines, 1)
	assert.Equal(t, "dpi_output_format=0x16", out.Lines[0])
	assert.Empty(t, rgb.Output(ctx).Lines)
}

func TestCmdlineIsIncludedFile(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	cmdline, ok := ctx.Registry.Get("boot.cmdline").(IncludedFileSetting)
	require.True(t, ok)
	assert.Equal(t, "cmdline.txt", cmdline.AuxFilename(ctx))
}

func TestRegistryCopyIsIndependent(t *testing.T) {
	ctx := newTestContext(t, bootparser.Pi3, 1024)
	require.NoError(t, ctx.Registry.Get("gpu.mem").Update(128))
	copied := ctx.Registry.Copy()
	copyCtx := Context{Registry: copied, Platform: ctx.Platform}
	assert.Equal(t, 128, copyCtx.Registry.Get("gpu.mem").Value(copyCtx))
	require.NoError(t, copied.Get("gpu.mem").Update(256))
	assert.Equal(t, 128, ctx.Registry.Get("gpu.mem").Value(ctx))
}
