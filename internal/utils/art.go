package utils

// DriftArt is the CLI banner.
const DriftArt = "     _        _   __  _\n" +
	"  __| | _ __ (_) / _|| |_\n" +
	" / _` || '__|| || |_ | __|\n" +
	"| (_| || |   | ||  _|| |_\n" +
	" \\__,_||_|   |_||_|   \\__|"
