package pixel

// PaletteEntry describes one color of the fixed PICO-8 palette.
type PaletteEntry struct {
	Index int    `json:"index"`
	Hex   string `json:"hex"`
	Name  string `json:"name"`
}

// PaletteSize is the number of supported colors. Larger palettes are not supported.
const PaletteSize = 16

// Palette is the static 16-entry PICO-8 color table served by the API.
// Pixel colors are indexes into this table.
var Palette = [PaletteSize]PaletteEntry{
	{Index: 0, Hex: "#000000", Name: "Black"},
	{Index: 1, Hex: "#1D2B53", Name: "Dark Blue"},
	{Index: 2, Hex: "#7E2553", Name: "Dark Purple"},
	{Index: 3, Hex: "#008751", Name: "Dark Green"},
	{Index: 4, Hex: "#AB5236", Name: "Brown"},
	{Index: 5, Hex: "#5F574F", Name: "Dark Grey"},
	{Index: 6, Hex: "#C2C3C7", Name: "Light Grey"},
	{Index: 7, Hex: "#FFF1E8", Name: "White"},
	{Index: 8, Hex: "#FF004D", Name: "Red"},
	{Index: 9, Hex: "#FFA300", Name: "Orange"},
	{Index: 10, Hex: "#FFEC27", Name: "Yellow"},
	{Index: 11, Hex: "#00E436", Name: "Green"},
	{Index: 12, Hex: "#29ADFF", Name: "Blue"},
	{Index: 13, Hex: "#83769C", Name: "Lavender"},
	{Index: 14, Hex: "#FF77A8", Name: "Pink"},
	{Index: 15, Hex: "#FFCCAA", Name: "Peach"},
}
