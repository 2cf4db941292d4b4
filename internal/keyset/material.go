package keyset

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Helpers de serialización de material criptográfico para los respaldos
// durables. Público en PKIX/PEM, privado en PKCS8/DER (el privado nunca
// se escribe en claro: los stores lo cifran antes de persistir).

// MarshalPublicPEM serializa una clave pública en PEM (PKIX).
func MarshalPublicPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// ParsePublicPEM deserializa una clave pública desde PEM (PKIX).
func ParsePublicPEM(raw string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("parse public key: bloque PEM inválido")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// MarshalPrivateDER serializa una clave privada en DER (PKCS8).
func MarshalPrivateDER(priv crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return der, nil
}

// ParsePrivateDER deserializa una clave privada desde DER (PKCS8).
func ParsePrivateDER(der []byte) (crypto.PrivateKey, error) {
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return priv, nil
}
