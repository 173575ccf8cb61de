// Package crypto implements the symmetric envelope encryption used on
// every HiveMind frame once a session key is established.
//
// Two AEAD ciphers are supported, AES-GCM (the default) and
// ChaCha20-Poly1305, together with a set of text encodings that decide
// how the ciphertext, tag and nonce triple is serialized inside JSON
// frames. Binary frames carry the raw concatenation nonce|ciphertext|tag.
//
// Example:
//
//	key := make([]byte, crypto.KeySize)
//	rand.Read(key)
//	frame, err := crypto.EncryptJSON(key, []byte(`{"msg_type":"bus"}`),
//	    crypto.CipherAESGCM, crypto.EncodingB64)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	plain, err := crypto.DecryptJSON(key, frame,
//	    crypto.CipherAESGCM, crypto.EncodingB64)
package crypto
