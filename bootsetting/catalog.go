package bootsetting

import (
	"github.com/pkg/errors"

	"github.com/waveform80/pibootctl/bootparser"
)

// firmwareSet names the four firmware binaries (or matching fixup
// companions) a board offers, keyed by which of camera/debug/cutdown mode
// is in effect.
type firmwareSet struct {
	Default, Camera, Debug, Cutdown string
}

var fwStart = map[bool]firmwareSet{
	false: {"start.elf", "start_x.elf", "start_db.elf", "start_cd.elf"},
	true:  {"start4.elf", "start4x.elf", "start4db.elf", "start4cd.elf"},
}

var fwFixup = map[bool]firmwareSet{
	false: {"fixup.dat", "fixup_x.dat", "fixup_db.dat", "fixup_cd.dat"},
	true:  {"fixup4.dat", "fixup4x.dat", "fixup4db.dat", "fixup4cd.dat"},
}

func isPi4(ctx Context) bool {
	bt, _ := ctx.Platform.BoardType()
	return bt == bootparser.Pi4
}

var cpuFreqMaxByBoard = map[bootparser.BoardType]int{
	bootparser.Pi0: 1000, bootparser.Pi0W: 1000, bootparser.Pi1: 700,
	bootparser.Pi2: 900, bootparser.Pi3: 1200, bootparser.Pi3P: 1400,
	bootparser.Pi4: 1500,
}

var cpuFreqMinByBoard = map[bootparser.BoardType]int{
	bootparser.Pi0: 700, bootparser.Pi0W: 700, bootparser.Pi1: 700,
	bootparser.Pi2: 600, bootparser.Pi3: 600, bootparser.Pi3P: 600,
	bootparser.Pi4: 600,
}

var coreFreqByBoard = map[bootparser.BoardType]int{
	bootparser.Pi0: 400, bootparser.Pi0W: 400, bootparser.Pi1: 250,
	bootparser.Pi2: 250, bootparser.Pi3: 400, bootparser.Pi3P: 400,
	bootparser.Pi4: 500,
}

var gpuBlockFreqByBoard = map[bootparser.BoardType]int{
	bootparser.Pi0: 300, bootparser.Pi0W: 300, bootparser.Pi1: 250,
	bootparser.Pi2: 250, bootparser.Pi3: 300, bootparser.Pi3P: 300,
	bootparser.Pi4: 500,
}

func boardDefault(ctx Context, table map[bootparser.BoardType]int) int {
	bt, ok := ctx.Platform.BoardType()
	if !ok {
		return 0
	}
	return table[bt]
}

// Catalog builds every setting pibootctl recognizes, in the order they
// should appear when no filter is applied. Construct a Registry from it
// with NewRegistry.
func Catalog() []Setting {
	var all []Setting
	add := func(s ...Setting) { all = append(all, s...) }

	// i2c: i2c_arm/i2c_arm_baudrate on the base overlay, after the
	// parser's i2c/i2c_arm/i2c1 canonicalization has already folded every
	// spelling into these two names.
	add(
		NewOverlayParamBool("i2c.enabled", "Enables the ARM I2C bus.", "base", "i2c_arm", false),
		NewOverlayParamInt("i2c.baudrate", "Sets the baud rate of the ARM I2C bus.", "base", "i2c_arm_baudrate", 100000),
	)

	// spi.enabled
	add(NewOverlayParamBool("spi.enabled", "Enables the SPI bus.", "base", "spi", false))

	// video.hdmi0.group / video.hdmi0.mode: CEA/DMT group+mode pair for
	// the first HDMI output.
	hdmiGroup := NewCommandIntHDMI("video.hdmi0.group", "Selects the HDMI output's video mode group.", "hdmi_group", 0, 0)
	hdmiGroup.Validator = func(_ Context, v int) error {
		if v < 0 || v > 2 {
			return errors.Errorf("video.hdmi0.group must be 0 (auto), 1 (CEA), or 2 (DMT)")
		}
		return nil
	}
	hdmiMode := NewCommandIntHDMI("video.hdmi0.mode", "Selects the HDMI output's video mode.", "hdmi_mode", 0, 0)
	hdmiMode.Validator = func(ctx Context, v int) error {
		if v == 0 {
			return nil
		}
		if ctx.Query("video.hdmi0.group").(int) == 1 && (v < 1 || v > 59) {
			return errors.Errorf("video.hdmi0.mode must be between 1 and 59 for CEA")
		}
		return nil
	}
	add(hdmiGroup, hdmiMode)

	// video.dpi.*: dpi_output_format bit-packed group. format is the
	// master (lowest nibble), rgb the next nibble, hsync.polarity one
	// further bit; enabled is a plain sibling command, not part of the
	// mask.
	add(
		NewMaskMaster("video.dpi.format", "Sets the DPI pixel format.", "dpi_output_format", 0xf, 1, ".rgb", ".hsync.polarity"),
		NewMaskDummy("video.dpi.rgb", "Sets the DPI colour channel order.", "dpi_output_format", 0xf0, 0),
		NewMaskDummy("video.dpi.hsync.polarity", "Inverts the DPI horizontal sync polarity.", "dpi_output_format", 0x10000, 0),
		NewCommandBool("video.dpi.enabled", "Enables the DPI parallel display output.", "enable_dpi_lcd", false),
	)

	// video.hdmi.boost: config_hdmi_boost, custom 0-11 range.
	hdmiBoost := NewCommandInt("video.hdmi.boost", "Sets the HDMI output signal strength.", "config_hdmi_boost", 5)
	hdmiBoost.Validator = func(_ Context, v int) error {
		if v < 0 || v > 11 {
			return errors.Errorf("video.hdmi.boost must be between 0 and 11 (default 5)")
		}
		return nil
	}
	add(hdmiBoost)

	// video.overscan.enabled: disable_overscan, inverted.
	add(NewCommandBoolInv("video.overscan.enabled", "Enables overscan compensation on analog/HDMI displays.", "disable_overscan", true))

	// display.lcd.rotate / .flip: one shared bit-packed command.
	add(
		NewCommandDisplayRotate("display.lcd.rotate", "Rotates the display output in degrees.", "display_lcd_rotate", 0),
		NewCommandDisplayFlip("display.lcd.flip", "Mirrors the display output.", "display_lcd_rotate", "display.lcd.rotate", 0),
	)

	// hdmi.hotplug: hdmi_force_hotplug / hdmi_ignore_hotplug tri-state.
	add(NewCommandForceIgnore("hdmi.hotplug", "Forces or ignores HDMI hotplug detection.", "hdmi_force_hotplug", "hdmi_ignore_hotplug"))

	// serial.enabled / bluetooth.enabled: the Bluetooth UART and the
	// console UART contend for the same PL011 peripheral on boards with
	// an onboard radio. bluetooth.enabled reads false when a disable-bt or
	// miniuart-bt overlay is loaded; setting it false emits
	// dtoverlay=disable-bt and setting it true emits nothing.
	// serial.enabled is the plain enable_uart command. Neither setting
	// validates against the other: no combination of the two is rejected.
	bluetooth := NewBluetoothEnabled("bluetooth.enabled", "Enables the onboard Bluetooth radio.", "disable-bt", "miniuart-bt")
	serial := NewCommandBool("serial.enabled", "Enables the serial console UART.", "enable_uart", true)
	add(bluetooth, serial)

	// boot.delay: boot_delay + boot_delay_ms combined.
	add(NewCommandBootDelay2("boot.delay", "Pauses the firmware's boot sequence for this many seconds.", 1))

	// boot.kernel.64bit / .address / .filename: arm_64bit and its
	// downstream address/filename defaults.
	kernel64 := NewCommandBool("boot.kernel.64bit", "Boots a 64-bit kernel.", "arm_64bit", false)
	add(kernel64)
	kernelAddress := NewCommandIntHex("boot.kernel.address", "Sets the address the kernel is loaded to.", "kernel_address", 0x8000)
	kernelAddress.DefaultFunc = func(ctx Context) int {
		if ctx.Query("boot.kernel.64bit").(bool) {
			return 0x80000
		}
		return 0x8000
	}
	add(kernelAddress)
	kernelFilename := NewCommandFilename("boot.kernel.filename", "Names the kernel image file to boot.", "kernel", "kernel.img")
	kernelFilename.DefaultFunc = func(ctx Context) string {
		if ctx.Query("boot.kernel.64bit").(bool) {
			return "kernel8.img"
		}
		switch bt, _ := ctx.Platform.BoardType(); bt {
		case bootparser.Pi4:
			return "kernel7l.img"
		case bootparser.Pi2, bootparser.Pi3, bootparser.Pi3P:
			return "kernel7.img"
		default:
			return "kernel.img"
		}
	}
	add(kernelFilename)

	// boot.prefix: os_prefix, consulted by every CommandFilename via
	// FullFilename/Hint.
	add(NewCommandStr("boot.prefix", "Prefixes every boot filename, switching between alternate boot directories.", "os_prefix", ""))

	// boot.firmware.camera / .debug / .filename / .fixup: the
	// start_x/start_debug/start_file/fixup_file precedence rules. camera
	// and debug are onlyWhenTrue/ignoreZero flags; filename/fixup derive
	// their defaults from gpu.mem plus whichever of camera/debug was
	// explicitly modified (checking Modified() before reading each
	// other's Value(), to avoid the two groups recursing into one another
	// when everything is left at default).
	camera := NewFirmwareFlag("boot.firmware.camera", "Enables the camera firmware module.", "start_x", func(ctx Context) bool {
		pi4 := isPi4(ctx)
		gpuMem := ctx.Query("gpu.mem").(int)
		filename := ctx.Query("boot.firmware.filename").(string)
		fixup := ctx.Query("boot.firmware.fixup").(string)
		if gpuMem < 64 {
			return false
		}
		return (filename == fwStart[pi4].Camera && fixup == fwFixup[pi4].Camera) ||
			(filename == fwStart[pi4].Debug && fixup == fwFixup[pi4].Debug)
	})
	camera.Validator = func(ctx Context, v bool) error {
		if v && ctx.Query("gpu.mem").(int) < 64 {
			return errors.Errorf("gpu.mem must be at least 64 when boot.firmware.camera is enabled")
		}
		return nil
	}
	debug := NewFirmwareFlag("boot.firmware.debug", "Enables firmware boot diagnostics.", "start_debug", func(ctx Context) bool {
		pi4 := isPi4(ctx)
		gpuMem := ctx.Query("gpu.mem").(int)
		filename := ctx.Query("boot.firmware.filename").(string)
		fixup := ctx.Query("boot.firmware.fixup").(string)
		return gpuMem > 16 && filename == fwStart[pi4].Debug && fixup == fwFixup[pi4].Debug
	})
	add(camera, debug)

	firmwareFilename := NewCommandFilename("boot.firmware.filename", "Names the firmware start file.", "start_file", "start.elf")
	firmwareFilename.DefaultFunc = func(ctx Context) string {
		pi4 := isPi4(ctx)
		set := fwStart[pi4]
		switch {
		case ctx.Query("gpu.mem").(int) <= 16:
			return set.Cutdown
		case ctx.Registry.Get("boot.firmware.debug").Modified() && ctx.Query("boot.firmware.debug").(bool):
			return set.Debug
		case ctx.Registry.Get("boot.firmware.camera").Modified() && ctx.Query("boot.firmware.camera").(bool):
			return set.Camera
		default:
			return set.Default
		}
	}
	firmwareFixup := NewCommandFilename("boot.firmware.fixup", "Names the firmware fixup file.", "fixup_file", "fixup.dat")
	firmwareFixup.DefaultFunc = func(ctx Context) string {
		pi4 := isPi4(ctx)
		set := fwFixup[pi4]
		switch {
		case ctx.Query("gpu.mem").(int) <= 16:
			return set.Cutdown
		case ctx.Registry.Get("boot.firmware.debug").Modified() && ctx.Query("boot.firmware.debug").(bool):
			return set.Debug
		case ctx.Registry.Get("boot.firmware.camera").Modified() && ctx.Query("boot.firmware.camera").(bool):
			return set.Camera
		default:
			return set.Default
		}
	}
	add(firmwareFilename, firmwareFixup)

	// gpu.mem: one setting spanning gpu_mem plus whichever of
	// gpu_mem_256/gpu_mem_512/gpu_mem_1024 matches the board's fitted
	// memory; the override-wins-regardless-of-order precedence lives
	// entirely in GPUMem.Extract/Validate.
	add(NewGPUMem("gpu.mem", "Sets the memory reserved for the GPU.", 64))

	// cpu.freq.max / .min
	cpuMax := NewCommandInt("cpu.freq.max", "Sets the maximum ARM CPU frequency in MHz.", "arm_freq", 0)
	cpuMax.DefaultFunc = func(ctx Context) int { return boardDefault(ctx, cpuFreqMaxByBoard) }
	cpuMax.Validator = func(ctx Context, v int) error {
		if v < ctx.Query("cpu.freq.min").(int) {
			return errors.Errorf("cpu.freq.max cannot be less than cpu.freq.min")
		}
		return nil
	}
	cpuMin := NewCommandInt("cpu.freq.min", "Sets the minimum ARM CPU frequency in MHz.", "arm_freq_min", 0)
	cpuMin.DefaultFunc = func(ctx Context) int { return boardDefault(ctx, cpuFreqMinByBoard) }
	add(cpuMax, cpuMin)

	// gpu.freq.{core,h264,isp,v3d}.{max,min}: the core member carries the
	// combined gpu_freq/gpu_freq_min command; all four collapse to one
	// line when every member agrees.
	coreMax := NewGPUFreqPrimary("gpu.freq.core.max", "Sets the GPU core frequency in MHz.", "core_freq", "gpu_freq", 0)
	coreMax.DefaultFunc = func(ctx Context) int { return boardDefault(ctx, coreFreqByBoard) }
	h264Max := NewGPUFreqMember("gpu.freq.h264.max", "Sets the H264 block frequency in MHz.", "h264_freq", 0)
	h264Max.DefaultFunc = func(ctx Context) int { return boardDefault(ctx, gpuBlockFreqByBoard) }
	ispMax := NewGPUFreqMember("gpu.freq.isp.max", "Sets the image sensor pipeline frequency in MHz.", "isp_freq", 0)
	ispMax.DefaultFunc = func(ctx Context) int { return boardDefault(ctx, gpuBlockFreqByBoard) }
	v3dMax := NewGPUFreqMember("gpu.freq.v3d.max", "Sets the 3D block frequency in MHz.", "v3d_freq", 0)
	v3dMax.DefaultFunc = func(ctx Context) int { return boardDefault(ctx, gpuBlockFreqByBoard) }
	LinkGPUFreqGroup(coreMax, h264Max, ispMax, v3dMax)

	coreMin := NewGPUFreqPrimary("gpu.freq.core.min", "Sets the minimum GPU core frequency in MHz.", "core_freq_min", "gpu_freq_min", 250)
	h264Min := NewGPUFreqMember("gpu.freq.h264.min", "Sets the minimum H264 block frequency in MHz.", "h264_freq_min", 250)
	ispMin := NewGPUFreqMember("gpu.freq.isp.min", "Sets the minimum image sensor pipeline frequency in MHz.", "isp_freq_min", 250)
	v3dMin := NewGPUFreqMember("gpu.freq.v3d.min", "Sets the minimum 3D block frequency in MHz.", "v3d_freq_min", 250)
	LinkGPUFreqGroup(coreMin, h264Min, ispMin, v3dMin)

	add(coreMax, h264Max, ispMax, v3dMax, coreMin, h264Min, ispMin, v3dMin)

	// boot.cmdline: cmdline, registered as an auxiliary included file so
	// its content participates in the configuration hash.
	add(NewCommandIncludedFile("boot.cmdline", "Names the kernel command line file.", "cmdline", "cmdline.txt"))

	return all
}
