package bootsetting

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/waveform80/pibootctl/bootctlerrors"
	"github.com/waveform80/pibootctl/bootparser"
	"github.com/waveform80/pibootctl/userstr"
)

// OverlaySetting represents a boolean setting that is "on" when the named overlay
// is loaded at all (with no particular parameter), e.g. an overlay that is
// either wholly present or wholly absent.
type OverlaySetting struct {
	base
	overlay string
}

func NewOverlay(name, doc, overlay string) *OverlaySetting {
	b := newBase(name, doc)
	return &OverlaySetting{base: b, overlay: overlay}
}

func (s *OverlaySetting) Key() []string { return []string{"overlays", s.overlay} }

func (s *OverlaySetting) Default(Context) any { return false }

func (s *OverlaySetting) Value(Context) any { return s.currentOrDefault(false) }

func (s *OverlaySetting) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = nil
	for i := len(lines) - 1; i >= 0; i-- {
		if o, ok := lines[i].(bootparser.OverlayLine); ok && o.Overlay == s.overlay {
			s.lines = append(s.lines, o)
		}
	}
	l := firstEnabled(s.lines, ctx)
	s.value, s.hasValue = true, l != nil
}

func (s *OverlaySetting) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	b, err := userstr.ToBool(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", s.name)
	}
	if b == nil {
		s.Reset()
	} else {
		s.setValue(*b)
	}
	return nil
}

func (s *OverlaySetting) Validate(Context) error { return nil }

func (s *OverlaySetting) Hint(Context) string { return "" }

func (s *OverlaySetting) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Value(ctx).(bool) {
		return bootctlerrors.OutputResult{}
	}
	return bootctlerrors.Emit("dtoverlay=" + s.overlay)
}

func (s *OverlaySetting) clone() Setting {
	c := *s
	return &c
}

// overlayParamBool is an on/off parameter of a (usually "base") overlay,
// e.g. "dtparam=i2c_arm=on".
type overlayParamBool struct {
	base
	overlay string
	param   string
	def     bool
}

// NewOverlayParamBool constructs a boolean overlay parameter setting.
func NewOverlayParamBool(name, doc, overlay, param string, def bool) Setting {
	return &overlayParamBool{base: newBase(name, doc), overlay: overlay, param: param, def: def}
}

func (s *overlayParamBool) Key() []string {
	return []string{"overlays", s.overlay, s.param}
}

func (s *overlayParamBool) Default(Context) any { return s.def }
func (s *overlayParamBool) Value(Context) any   { return s.currentOrDefault(s.def) }

func (s *overlayParamBool) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = nil
	for i := len(lines) - 1; i >= 0; i-- {
		if p, ok := lines[i].(bootparser.ParamLine); ok && p.Overlay == s.overlay && p.Param == s.param {
			s.lines = append(s.lines, p)
		}
	}
	s.hasValue = false
	l := firstEnabled(s.lines, ctx)
	if l == nil {
		return
	}
	p := l.(bootparser.ParamLine)
	b, err := userstr.ToBool(userstr.UserStr(p.Value))
	if err == nil && b != nil {
		s.value, s.hasValue = *b, true
	}
}

func (s *overlayParamBool) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	b, err := userstr.ToBool(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", s.name)
	}
	if b == nil {
		s.Reset()
	} else {
		s.setValue(*b)
	}
	return nil
}

func (s *overlayParamBool) Validate(Context) error { return nil }
func (s *overlayParamBool) Hint(Context) string    { return "" }

func (s *overlayParamBool) Output(ctx Context) bootctlerrors.OutputResult {
	value := "off"
	if s.Value(ctx).(bool) {
		value = "on"
	}
	if !s.Modified() {
		return bootctlerrors.OutputResult{}
	}
	return bootctlerrors.Emit(fmt.Sprintf("dtparam=%s=%s", s.param, value))
}

func (s *overlayParamBool) clone() Setting {
	c := *s
	return &c
}

// overlayParamInt is an integer-valued overlay parameter, e.g.
// "dtparam=i2c_arm_baudrate=100000".
type overlayParamInt struct {
	base
	overlay string
	param   string
	def     int
}

// NewOverlayParamInt constructs an integer overlay parameter setting.
func NewOverlayParamInt(name, doc, overlay, param string, def int) Setting {
	return &overlayParamInt{base: newBase(name, doc), overlay: overlay, param: param, def: def}
}

func (s *overlayParamInt) Key() []string {
	return []string{"overlays", s.overlay, s.param}
}

func (s *overlayParamInt) Default(Context) any { return s.def }
func (s *overlayParamInt) Value(Context) any   { return s.currentOrDefault(s.def) }

func (s *overlayParamInt) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = nil
	for i := len(lines) - 1; i >= 0; i-- {
		if p, ok := lines[i].(bootparser.ParamLine); ok && p.Overlay == s.overlay && p.Param == s.param {
			s.lines = append(s.lines, p)
		}
	}
	s.hasValue = false
	l := firstEnabled(s.lines, ctx)
	if l == nil {
		return
	}
	p := l.(bootparser.ParamLine)
	v, err := userstr.ToInt(userstr.UserStr(p.Value))
	if err == nil && v != nil {
		s.value, s.hasValue = *v, true
	}
}

func (s *overlayParamInt) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	v, err := userstr.ToInt(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", s.name)
	}
	if v == nil {
		s.Reset()
	} else {
		s.setValue(*v)
	}
	return nil
}

func (s *overlayParamInt) Validate(Context) error { return nil }
func (s *overlayParamInt) Hint(Context) string    { return "" }

func (s *overlayParamInt) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Modified() {
		return bootctlerrors.OutputResult{}
	}
	v := s.Value(ctx).(int)
	return bootctlerrors.Emit(fmt.Sprintf("dtparam=%s=%s", s.param, strconv.Itoa(v)))
}

func (s *overlayParamInt) clone() Setting {
	c := *s
	return &c
}

// BluetoothEnabled represents a board's onboard Bluetooth radio, which the
// firmware turns off by loading the disable-bt overlay (falling back to the
// mini-UART for the console in its place). Unlike OverlaySetting, "enabled"
// means the overlay is *not* loaded, so presence of either disable-bt or
// miniuart-bt (the deprecated spelling some boards still carry) both read
// as false.
type BluetoothEnabled struct {
	base
	overlay, legacyOverlay string
}

// NewBluetoothEnabled constructs the bluetooth.enabled setting.
func NewBluetoothEnabled(name, doc, overlay, legacyOverlay string) *BluetoothEnabled {
	return &BluetoothEnabled{base: newBase(name, doc), overlay: overlay, legacyOverlay: legacyOverlay}
}

func (s *BluetoothEnabled) Key() []string       { return []string{"overlays", s.overlay} }
func (s *BluetoothEnabled) Default(Context) any { return true }
func (s *BluetoothEnabled) Value(Context) any   { return s.currentOrDefault(true) }

func (s *BluetoothEnabled) Extract(lines []bootparser.Line, ctx Context) {
	s.lines = nil
	for i := len(lines) - 1; i >= 0; i-- {
		if o, ok := lines[i].(bootparser.OverlayLine); ok && (o.Overlay == s.overlay || o.Overlay == s.legacyOverlay) {
			s.lines = append(s.lines, o)
		}
	}
	l := firstEnabled(s.lines, ctx)
	s.value, s.hasValue = l == nil, l != nil
}

func (s *BluetoothEnabled) Update(value any) error {
	if value == nil {
		s.Reset()
		return nil
	}
	b, err := userstr.ToBool(value)
	if err != nil {
		return errors.Wrapf(err, "updating %s", s.name)
	}
	if b == nil {
		s.Reset()
	} else {
		s.setValue(*b)
	}
	return nil
}

func (s *BluetoothEnabled) Validate(Context) error { return nil }
func (s *BluetoothEnabled) Hint(Context) string    { return "" }

func (s *BluetoothEnabled) Output(ctx Context) bootctlerrors.OutputResult {
	if !s.Modified() || s.Value(ctx).(bool) {
		return bootctlerrors.OutputResult{}
	}
	return bootctlerrors.Emit("dtoverlay=" + s.overlay)
}

func (s *BluetoothEnabled) clone() Setting { c := *s; return &c }
