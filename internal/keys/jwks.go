package keys

// JWK is the public RSA key representation published for verifiers. It carries
// exactly kty, use, kid, n and e.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

func toJWK(k *SigningKey) JWK {
	pub := k.Public()
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: k.KID,
		N:   encodeModulus(pub.N),
		E:   encodeExponent(pub.E),
	}
}
