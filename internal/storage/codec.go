package storage

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/yndnr/sessionguard/internal/core/domain"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Profile field values decode into map[string]any, not
		// map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeProfile(p *domain.UserProfile) ([]byte, error) {
	return encMode.Marshal(p)
}

func decodeProfile(data []byte) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := decMode.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
