package pca9685

// Register map (datasheet rev. 4).
const (
	regMode1    = 0x00
	regMode2    = 0x01
	regLED0     = 0x06 // LED0_ON_L; each channel has ON_L, ON_H, OFF_L, OFF_H
	regAllLED   = 0xFA // ALL_LED_ON_L
	regPrescale = 0xFE
)

// MODE1 bits.
const (
	mode1Restart = 0x80
	mode1AI      = 0x20 // register auto-increment
	mode1Sleep   = 0x10 // oscillator off
	mode1AllCall = 0x01
)

// MODE2 bits.
const (
	mode2OutDrv = 0x04 // totem pole outputs
)

// ledFull in an ON_H or OFF_H byte forces the output fully on or off.
const ledFull = 0x10

const (
	counterSteps = 4096
	prescaleMin  = 3
	prescaleMax  = 255
	prescalePOR  = 0x1E
)

func ledReg(ch int) byte { return byte(regLED0 + 4*ch) }
