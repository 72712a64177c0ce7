package indi

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Standard property and element names used by the imaging sequence.
const (
	PropConnection   = "CONNECTION"
	ElemConnect      = "CONNECT"
	PropFrameType    = "CCD_FRAME_TYPE"
	PropUploadMode   = "UPLOAD_MODE"
	ElemUploadClient = "UPLOAD_CLIENT"
	PropControls     = "CCD_CONTROLS"
	ElemISO          = "ISO"
	PropExposure     = "CCD_EXPOSURE"
	ElemExposure     = "CCD_EXPOSURE_VALUE"
)

// Frame type element names.
const (
	FrameLight = "FRAME_LIGHT"
	FrameBias  = "FRAME_BIAS"
	FrameDark  = "FRAME_DARK"
	FrameFlat  = "FRAME_FLAT"
)

// BLOBPolicyAlso asks the server to send BLOBs along with normal traffic.
const BLOBPolicyAlso = "Also"

// protocolVersion is sent with getProperties.
const protocolVersion = "1.7"

// FrameTypeElement maps a caller's frame type ("light", "bias", "dark",
// "flat", any case) to its switch element. Anything else maps to FrameLight.
func FrameTypeElement(frameType string) string {
	switch strings.ToLower(strings.TrimSpace(frameType)) {
	case "bias":
		return FrameBias
	case "dark":
		return FrameDark
	case "flat":
		return FrameFlat
	default:
		return FrameLight
	}
}

type vectorCommand struct {
	XMLName xml.Name
	Device  string `xml:"device,attr"`
	Name    string `xml:"name,attr"`
	Members []memberValue
}

type memberValue struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Value   string `xml:",chardata"`
}

type enableBLOBCommand struct {
	XMLName xml.Name `xml:"enableBLOB"`
	Device  string   `xml:"device,attr"`
	Policy  string   `xml:",chardata"`
}

type getPropertiesCommand struct {
	XMLName xml.Name `xml:"getProperties"`
	Version string   `xml:"version,attr"`
}

// marshal encodes one of the command structs above. They only hold strings,
// so encoding cannot fail.
func marshal(v any) string {
	b, err := xml.Marshal(v)
	if err != nil {
		panic("indi: marshal command: " + err.Error())
	}
	return string(b)
}

// NewSwitchCommand builds a newSwitchVector that turns element On.
//
// Example:
//
//	NewSwitchCommand("CCD Simulator", "CONNECTION", "CONNECT")
//	// <newSwitchVector device="CCD Simulator" name="CONNECTION"><oneSwitch name="CONNECT">On</oneSwitch></newSwitchVector>
func NewSwitchCommand(device, property, element string) string {
	return marshal(vectorCommand{
		XMLName: xml.Name{Local: "newSwitchVector"},
		Device:  device,
		Name:    property,
		Members: []memberValue{{XMLName: xml.Name{Local: "oneSwitch"}, Name: element, Value: "On"}},
	})
}

// NewNumberCommand builds a newNumberVector setting one element.
func NewNumberCommand(device, property, element string, value float64) string {
	return marshal(vectorCommand{
		XMLName: xml.Name{Local: "newNumberVector"},
		Device:  device,
		Name:    property,
		Members: []memberValue{{
			XMLName: xml.Name{Local: "oneNumber"},
			Name:    element,
			Value:   strconv.FormatFloat(value, 'g', -1, 64),
		}},
	})
}

// EnableBLOBCommand builds an enableBLOB command for device.
func EnableBLOBCommand(device, policy string) string {
	return marshal(enableBLOBCommand{Device: device, Policy: policy})
}

// GetPropertiesCommand builds the getProperties request sent after connect.
func GetPropertiesCommand() string {
	return marshal(getPropertiesCommand{Version: protocolVersion})
}
