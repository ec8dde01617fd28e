package camera

import (
	"encoding/binary"
	"fmt"

	"github.com/vladimirvivien/go4vl/v4l2"
)

// ControlInfo describes one V4L2 control; its ID is what goes into
// property_<i>_code.
type ControlInfo struct {
	ID      v4l2.CtrlID    `json:"id"`
	Name    string         `json:"name"`
	Value   v4l2.CtrlValue `json:"value"`
	Default int32          `json:"default"`
	Minimum int32          `json:"minimum"`
	Maximum int32          `json:"maximum"`
	Step    int32          `json:"step"`

	IsMenu    bool     `json:"isMenu"`
	MenuItems []string `json:"menuItems,omitempty"`
}

// ListControls queries every extended control of an open V4L2 node.
func ListControls(fd uintptr) ([]ControlInfo, error) {
	ctrls, err := v4l2.QueryAllExtControls(fd)
	if err != nil {
		return nil, err
	}
	res := make([]ControlInfo, 0, len(ctrls))
	for _, ctrl := range ctrls {
		res = append(res, controlInfo(ctrl))
	}

	return res, nil
}

// Controls lists the controls of the running device.
func (c *V4L2) Controls() ([]ControlInfo, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.camera == nil {
		return nil, ErrNotOpened
	}
	return ListControls(c.camera.Fd())
}

func controlInfo(ctrl v4l2.Control) ControlInfo {
	info := ControlInfo{
		ID:      ctrl.ID,
		Name:    ctrl.Name,
		Value:   ctrl.Value,
		Default: ctrl.Default,
		Minimum: ctrl.Minimum,
		Maximum: ctrl.Maximum,
		Step:    ctrl.Step,
		IsMenu:  ctrl.IsMenu(),
	}
	if !info.IsMenu {
		return info
	}
	menus, err := ctrl.GetMenuItems()
	if err != nil {
		logger.Warnf("control(%d) menu items: %s", ctrl.ID, err)
		return info
	}
	for _, m := range menus {
		name := m.Name
		if ctrl.Type == v4l2.CtrlTypeIntegerMenu {
			name = fmt.Sprint(menuInt(m.Name))
		}
		info.MenuItems = append(info.MenuItems, name)
	}
	return info
}

// integer menu items carry their value little endian in the name field
func menuInt(name string) int64 {
	b := []byte(name)
	for i := len(b); i <= 8; i++ {
		b = append(b, 0)
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (i ControlInfo) String() string {
	return fmt.Sprintf("Control id (%d) name: %s\t[min: %d; max: %d; step: %d; default: %d current_val: %d]",
		i.ID, i.Name, i.Minimum, i.Maximum, i.Step, i.Default, i.Value)
}
