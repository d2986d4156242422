package vm

import "crypto/sha256"

// Hash computes the SHA-256 content hash of the program's code.
//
// Variable names are not part of the hash: two programs that differ only
// in how their variables are spelled produce the same hash.
func (p *Program) Hash() [32]byte {
	data, err := cborEncMode.Marshal(p.Code)
	if err != nil {
		// Instructions are plain integers; encoding cannot fail.
		panic("vm: hash: " + err.Error())
	}
	return sha256.Sum256(data)
}
