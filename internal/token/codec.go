package token

import (
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Claims reservados del servicio. Los claims custom del caller no pueden
// pisarlos: colisión en Sign es rechazo, no merge silencioso.
var reservedClaims = map[string]bool{
	"sub": true,
	"iss": true,
	"aud": true,
	"iat": true,
	"exp": true,
	"jti": true,
}

// IsReservedClaim indica si name está reservado por el servicio.
func IsReservedClaim(name string) bool { return reservedClaims[name] }

// Claims es la vista decodificada de un token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	TokenID   string
	Extra     map[string]any
}

// Header son los campos del header JOSE que nos importan.
type Header struct {
	Alg string
	KID string
	Typ string
}

// Decoded es un token parseado pero NO verificado: la firma todavía no se
// chequeó. SigningInput y Signature alimentan la verificación manual.
type Decoded struct {
	Header       Header
	Claims       Claims
	SigningInput string
	Signature    []byte
	Method       jwtv5.SigningMethod
}

var parser = jwtv5.NewParser()

// Decode parsea la estructura del token sin verificar la firma. Cualquier
// defecto estructural (segmentos, base64, JSON, claims ausentes o mal
// tipados, alg desconocido, kid faltante) es ErrMalformedToken.
func Decode(raw string) (*Decoded, error) {
	tok, parts, err := parser.ParseUnverified(raw, jwtv5.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	alg, _ := tok.Header["alg"].(string)
	method := jwtv5.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("%w: alg %q no soportado", ErrMalformedToken, alg)
	}
	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: header sin kid", ErrMalformedToken)
	}
	typ, _ := tok.Header["typ"].(string)

	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: firma no decodificable: %v", ErrMalformedToken, err)
	}

	mc, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: payload inválido", ErrMalformedToken)
	}
	claims, err := claimsFromMap(mc)
	if err != nil {
		return nil, err
	}

	return &Decoded{
		Header:       Header{Alg: alg, KID: kid, Typ: typ},
		Claims:       *claims,
		SigningInput: parts[0] + "." + parts[1],
		Signature:    sig,
		Method:       method,
	}, nil
}

// claimsFromMap valida presencia y tipo de los claims reservados y separa
// el resto en Extra.
func claimsFromMap(mc jwtv5.MapClaims) (*Claims, error) {
	c := &Claims{}

	var ok bool
	if c.Subject, ok = mc["sub"].(string); !ok || c.Subject == "" {
		return nil, fmt.Errorf("%w: claim sub ausente o inválido", ErrMalformedToken)
	}
	if c.Issuer, ok = mc["iss"].(string); !ok || c.Issuer == "" {
		return nil, fmt.Errorf("%w: claim iss ausente o inválido", ErrMalformedToken)
	}
	if c.Audience, ok = mc["aud"].(string); !ok || c.Audience == "" {
		return nil, fmt.Errorf("%w: claim aud ausente o inválido", ErrMalformedToken)
	}
	if c.TokenID, ok = mc["jti"].(string); !ok || c.TokenID == "" {
		return nil, fmt.Errorf("%w: claim jti ausente o inválido", ErrMalformedToken)
	}

	iat, err := numericDate(mc["iat"])
	if err != nil {
		return nil, fmt.Errorf("%w: claim iat inválido", ErrMalformedToken)
	}
	exp, err := numericDate(mc["exp"])
	if err != nil {
		return nil, fmt.Errorf("%w: claim exp inválido", ErrMalformedToken)
	}
	c.IssuedAt = iat
	c.ExpiresAt = exp

	for name, v := range mc {
		if reservedClaims[name] {
			continue
		}
		if c.Extra == nil {
			c.Extra = map[string]any{}
		}
		c.Extra[name] = v
	}
	return c, nil
}

// numericDate acepta los tipos con los que encoding/json puede representar
// un NumericDate.
func numericDate(v any) (time.Time, error) {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC(), nil
	case int64:
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("numeric date: tipo %T", v)
	}
}

// encode arma el token listo para firmar: header con kid y typ, claims
// reservados del servicio más los extra del caller (ya validados).
func encode(alg, kid string, c *Claims) (*jwtv5.Token, error) {
	method := jwtv5.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("alg %q no soportado", alg)
	}

	mc := jwtv5.MapClaims{
		"sub": c.Subject,
		"iss": c.Issuer,
		"aud": c.Audience,
		"iat": c.IssuedAt.Unix(),
		"exp": c.ExpiresAt.Unix(),
		"jti": c.TokenID,
	}
	for name, v := range c.Extra {
		mc[name] = v
	}

	tok := jwtv5.NewWithClaims(method, mc)
	tok.Header["kid"] = kid
	tok.Header["typ"] = "JWT"
	return tok, nil
}
