package signer

import (
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// serializePublic writes entity's public key as an armored block.
func serializePublic(w io.Writer, entity *openpgp.Entity) error {
	aw, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return err
	}

	if err = entity.Serialize(aw); err != nil {
		_ = aw.Close()

		return err
	}

	return aw.Close()
}
