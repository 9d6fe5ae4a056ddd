package bootparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	boardType BoardType
	memoryMB  int
}

func (f fakePlatform) BoardType() (BoardType, bool) { return f.boardType, f.boardType != "" }
func (f fakePlatform) BoardTypes() map[BoardType]bool {
	return map[BoardType]bool{f.boardType: true}
}
func (f fakePlatform) BoardSerial() (uint64, bool) { return 0, false }
func (f fakePlatform) BoardMemoryMB() int          { return f.memoryMB }

func parse(t *testing.T, files map[string]string) *Config {
	t.Helper()
	src := MapSource{}
	for name, content := range files {
		src[name] = NewBootFile(name, src[name].Timestamp, []byte(content))
	}
	cfg, err := Parse(src, fakePlatform{boardType: Pi4, memoryMB: 1024}, "config.txt")
	require.NoError(t, err)
	return cfg
}

func TestParseBasicCommand(t *testing.T) {
	cfg := parse(t, map[string]string{"config.txt": "gpu_mem=128\n"})
	require.Len(t, cfg.Lines, 1)
	cmd, ok := cfg.Lines[0].(CommandLine)
	require.True(t, ok)
	assert.Equal(t, "gpu_mem", cmd.Command)
	assert.Equal(t, "128", cmd.Params)
	assert.False(t, cmd.HasHDMI)
}

func TestParseHDMIIndexedCommand(t *testing.T) {
	cfg := parse(t, map[string]string{"config.txt": "hdmi_group:1=1\n"})
	require.Len(t, cfg.Lines, 1)
	cmd := cfg.Lines[0].(CommandLine)
	assert.Equal(t, "hdmi_group", cmd.Command)
	assert.True(t, cmd.HasHDMI)
	assert.Equal(t, 1, cmd.HDMI)
}

func TestParseOverlayWithParams(t *testing.T) {
	cfg := parse(t, map[string]string{"config.txt": "dtoverlay=lirc-rpi:gpio_in_pin=17,gpio_out_pin=18\n"})
	require.Len(t, cfg.Lines, 3)
	overlay := cfg.Lines[0].(OverlayLine)
	assert.Equal(t, "lirc-rpi", overlay.Overlay)
	p1 := cfg.Lines[1].(ParamLine)
	assert.Equal(t, "gpio_in_pin", p1.Param)
	assert.Equal(t, "17", p1.Value)
	p2 := cfg.Lines[2].(ParamLine)
	assert.Equal(t, "gpio_out_pin", p2.Param)
	assert.Equal(t, "18", p2.Value)
}

func TestParseI2CCanonicalization(t *testing.T) {
	cfg := parse(t, map[string]string{"config.txt": "dtparam=i2c=on\n"})
	require.Len(t, cfg.Lines, 1)
	param := cfg.Lines[0].(ParamLine)
	assert.Equal(t, "i2c_arm", param.Param)
	assert.Equal(t, "on", param.Value)
}

func TestParseInclude(t *testing.T) {
	cfg := parse(t, map[string]string{
		"config.txt": "include extra.txt\narm_freq=800\n",
		"extra.txt":  "gpu_mem=64\n",
	})
	var commands []string
	for _, l := range cfg.Lines {
		if c, ok := l.(CommandLine); ok {
			commands = append(commands, c.Command)
		}
	}
	assert.Equal(t, []string{"gpu_mem", "arm_freq"}, commands)
	assert.Contains(t, cfg.Files, "extra.txt")
}

func TestParseMissingIncludeIsNotAnError(t *testing.T) {
	cfg := parse(t, map[string]string{"config.txt": "include missing.txt\narm_freq=800\n"})
	require.NotNil(t, cfg)
	var commands []string
	for _, l := range cfg.Lines {
		if c, ok := l.(CommandLine); ok {
			commands = append(commands, c.Command)
		}
	}
	assert.Equal(t, []string{"arm_freq"}, commands)
}

func TestParseSectionConditional(t *testing.T) {
	cfg := parse(t, map[string]string{
		"config.txt": "[pi4]\narm_freq=1500\n[all]\ngpu_mem=128\n",
	})
	require.Len(t, cfg.Lines, 4)
	section := cfg.Lines[0].(SectionLine)
	assert.Equal(t, "pi4", section.Section)
	cmd := cfg.Lines[1].(CommandLine)
	assert.True(t, cmd.Conditions().HasPi)
	assert.Equal(t, Pi4, cmd.Conditions().Pi)
	reset := cfg.Lines[3].(CommandLine)
	assert.False(t, reset.Conditions().HasPi)
}

func TestParseColumn80Truncation(t *testing.T) {
	padding := ""
	for i := 0; i < 90; i++ {
		padding += "x"
	}
	cfg := parse(t, map[string]string{"config.txt": "gpu_mem=128" + padding + "\n"})
	require.Len(t, cfg.Lines, 1)
	cmd := cfg.Lines[0].(CommandLine)
	assert.Equal(t, 80, len("gpu_mem=128"+padding[:80-len("gpu_mem=128")]))
	assert.True(t, len(cmd.Params) < len(padding))
}

func TestParseCommentOnlyLine(t *testing.T) {
	cfg := parse(t, map[string]string{"config.txt": "# just a comment\n"})
	require.Len(t, cfg.Lines, 1)
	_, ok := cfg.Lines[0].(CommentLine)
	assert.True(t, ok)
}

func TestParseInitramfs(t *testing.T) {
	cfg := parse(t, map[string]string{"config.txt": "initramfs initrd.img 0x00800000\n"})
	require.Len(t, cfg.Lines, 1)
	cmd := cfg.Lines[0].(CommandLine)
	assert.True(t, cmd.IsInitramfs)
	assert.Equal(t, [2]string{"initrd.img", "0x00800000"}, cmd.Initrd)
}

func TestParseHashStableAcrossRuns(t *testing.T) {
	files := map[string]string{"config.txt": "gpu_mem=128\n"}
	a := parse(t, files)
	b := parse(t, files)
	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEmpty(t, a.Hash)
}
