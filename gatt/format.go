package gatt

import "encoding/binary"

// Format is a Characteristic Presentation Format field value (descriptor
// 0x2904), per Bluetooth Core Specification Supplement Part B, 1.3.
type Format uint8

const (
	FormatBoolean    Format = 0x01
	FormatUint8      Format = 0x04
	FormatUint16     Format = 0x06
	FormatUint32     Format = 0x08
	FormatSint8      Format = 0x0C
	FormatSint16     Format = 0x0D
	FormatSint32     Format = 0x0F
	FormatFloat32    Format = 0x13
	FormatFloat64    Format = 0x14
	FormatUtf8String Format = 0x18
	FormatStruct     Format = 0x1A
)

// Unit is a Bluetooth SIG assigned unit UUID for the presentation format's
// unit field. Only the units this framework's profiles use are listed;
// combine with the exponent field for scaling (Tesla with exponent -6 is
// microtesla).
type Unit uint16

const (
	UnitUnitless              Unit = 0x2700
	UnitMetre                 Unit = 0x2701
	UnitSecond                Unit = 0x2703
	UnitDegreeCelsius         Unit = 0x272F
	UnitMetrePerSecondSquared Unit = 0x2713
	UnitRadianPerSecond       Unit = 0x2743
	UnitTesla                 Unit = 0x272E
	UnitHertz                 Unit = 0x2722
	UnitPercentage            Unit = 0x27AD
	UnitBeatsPerMinute        Unit = 0x27A7
	UnitCount                 Unit = 0x27B1
)

// Appearance is a Bluetooth SIG assigned appearance value advertised in the
// GAP service and the advertising payload.
type Appearance uint16

const (
	AppearanceUnknown           Appearance = 0x0000
	AppearanceGenericSensor     Appearance = 0x0540
	AppearanceMotionSensor      Appearance = 0x0541
	AppearanceTemperatureSensor Appearance = 0x0543
	AppearanceMultiSensor       Appearance = 0x0549
)

// PresentationFormat is the 7-byte value of the Characteristic Presentation
// Format descriptor (0x2904).
type PresentationFormat struct {
	Format      Format `yaml:"format"`
	Exponent    int8   `yaml:"exponent"`
	Unit        Unit   `yaml:"unit"`
	Namespace   uint8  `yaml:"namespace"`
	Description uint16 `yaml:"description"`
}

// Pack encodes the descriptor value in its wire layout.
func (p PresentationFormat) Pack() []byte {
	b := make([]byte, 7)
	b[0] = byte(p.Format)
	b[1] = byte(p.Exponent)
	binary.LittleEndian.PutUint16(b[2:], uint16(p.Unit))
	b[4] = p.Namespace
	binary.LittleEndian.PutUint16(b[5:], p.Description)
	return b
}
