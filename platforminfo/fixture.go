package platforminfo

import (
	"strconv"

	"github.com/BurntSushi/toml"
)

func decodeFixtureTOML(data []byte, fx *Fixture) error {
	_, err := toml.Decode(string(data), fx)
	return err
}

func parseHexSerial(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}
