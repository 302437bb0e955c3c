package constants

const (
	NULL_ADDRESS = "0x0000000000000000000000000000000000000000"
	DEAD_ADDRESS = "0x000000000000000000000000000000000000dead"
)
