package crypto

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/msgboxio/ike/protocol"
)

// dhGroup is a finite-field (MODP) Diffie-Hellman group, RFC 3526 /
// RFC 7296 §3.3.2. Elliptic-curve groups are not negotiated by this
// implementation; proposing one yields an unsupported-transform error.
type dhGroup interface {
	// private returns a random exponent suitable as a private DH value.
	private(rand io.Reader) (*big.Int, error)
	// public computes g^x mod p for the group's generator g.
	public(x *big.Int) *big.Int
	// diffieHellman computes theirPublic^x mod p.
	diffieHellman(theirPublic, x *big.Int) (*big.Int, error)
	// TransformId reports the DH transform ID this group negotiates as,
	// so the KE payload can be built without a second lookup table.
	TransformId() protocol.DhTransformId
}

type modpGroup struct {
	p        *big.Int
	g        *big.Int
	exponent int // bits of private exponent, RFC 7296 guidance: >= 2*security-strength
	id       protocol.DhTransformId
}

func (g *modpGroup) TransformId() protocol.DhTransformId { return g.id }

func (g *modpGroup) private(rnd io.Reader) (*big.Int, error) {
	return rand.Prime(rnd, g.exponent)
}

func (g *modpGroup) public(x *big.Int) *big.Int {
	return new(big.Int).Exp(g.g, x, g.p)
}

func (g *modpGroup) diffieHellman(theirPublic, x *big.Int) (*big.Int, error) {
	return new(big.Int).Exp(theirPublic, x, g.p), nil
}

func modpHex(hexDigits string, exponent int, id protocol.DhTransformId) *modpGroup {
	p, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		panic("invalid modp prime")
	}
	return &modpGroup{p: p, g: big.NewInt(2), exponent: exponent, id: id}
}

// RFC 3526 §§2-5, RFC 2409 §6.2 primes (whitespace insignificant to SetString base 16).
var (
	modp1024 = modpHex(""+
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD"+
		"129024E088A67CC74020BBEA63B139B22514A08798E3404"+
		"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C"+
		"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406"+
		"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE"+
		"45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD"+
		"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077"+
		"096966D670C354E4ABC9804F1746C08CA18217C32905E46"+
		"2E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF"+
		"06F4C52C9DE2BCBF6955817183995497CEA956AE515D225"+
		"6A8381207FFFFFFFFFFFFFFF", 1024, protocol.MODP_1024)

	// 1536-bit group (RFC 3526 §2)
	modp1536 = modpHex(""+
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD"+
		"129024E088A67CC74020BBEA63B139B22514A08798E3404"+
		"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C"+
		"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406"+
		"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE"+
		"45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD"+
		"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077"+
		"096966D670C354E4ABC9804F1746C08CA18217C32905E46"+
		"2E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF"+
		"06F4C52C9DE2BCBF6955817183995497CEA956AE515D226"+
		"98FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF", 1536, protocol.MODP_1536)

	modp2048 = modpHex(""+
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD"+
		"129024E088A67CC74020BBEA63B139B22514A08798E3404"+
		"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C"+
		"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406"+
		"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE"+
		"45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD"+
		"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077"+
		"096966D670C354E4ABC9804F1746C08CA18217C32905E46"+
		"2E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF"+
		"06F4C52C9DE2BCBF6955817183995497CEA956AE515D225"+
		"6A8381207FFFFFFFFFFFFFFF"+
		// 2048-bit group (RFC 3526 §3)
		"FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF"+
		"1D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3E"+
		"F97D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD6"+
		"5612433F51F5F066ED0856365553DED1AF3B557135E7F57"+
		"C935984F0C70E0E68B77E2A689DAF3EFE8721DF158A136A"+
		"DE73530ACCA4F483A797ABC0AB182B324FB61D108A94BB2"+
		"C8E3FBB96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76"+
		"372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD"+
		"28342F619172FE9CE98583FF8E4F1232EEF28183C3FE3B1"+
		"B4C6FAD733BB5FCBC2EC22005C58EF1837D1683B2C6F34A"+
		"26C1B2EFFA886B4238611FCFDCDE355B3B6519035BBC34F"+
		"4DEF99C023861B46FC9D6E6C9077AD91D2691F7F7EE598C"+
		"B0FAC186D91CAEFE130985139270B4130C93BC437944F4F"+
		"D4452E2D74DD364F2E21E71F54BFF5CAE82AB9C9DF69EE8"+
		"6D2BC522363A0DABC521979B0DEADA1DBF9A42D5C4484E0"+
		"ABCD06BFA53DDEF3C1B20EE3FD59D7C25E41D2B66C62E37FFFFFFFFFFFFFFFF", 2048, protocol.MODP_2048)

	modp3072 = modpHex(""+
		"FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF"+
		"1D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3E"+
		"F97D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD6"+
		"5612433F51F5F066ED0856365553DED1AF3B557135E7F57"+
		"C935984F0C70E0E68B77E2A689DAF3EFE8721DF158A136A"+
		"DE73530ACCA4F483A797ABC0AB182B324FB61D108A94BB2"+
		"C8E3FBB96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76"+
		"372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD"+
		"28342F619172FE9CE98583FF8E4F1232EEF28183C3FE3B1"+
		"B4C6FAD733BB5FCBC2EC22005C58EF1837D1683B2C6F34A"+
		"26C1B2EFFA886B4238611FCFDCDE355B3B6519035BBC34F"+
		"4DEF99C023861B46FC9D6E6C9077AD91D2691F7F7EE598C"+
		"B0FAC186D91CAEFE130985139270B4130C93BC437944F4F"+
		"D4452E2D74DD364F2E21E71F54BFF5CAE82AB9C9DF69EE8"+
		"6D2BC522363A0DABC521979B0DEADA1DBF9A42D5C4484E0"+
		"ABCD06BFA53DDEF3C1B20EE3FD59D7C25E41D2B669E1EF1"+
		"6E6F52C3164DF4FB7930E9E4E58857B6AC7D5F42D69F6D1"+
		"87763CF1D5503400487F55BA57E31CC7A7135C886EFB4318AED6A1E012D9E6832A907600A918130C46DC778F971AD0038092999A333CB8B7A1A1DB93D7140003C2A4ECEA9F98D0ACC0A8291CDCEC97DCF8EC9B55A7F88A46B4DB5A851F44182E1C68A007E5E655F6AFFFFFFFFFFFFFFFF", 3072, protocol.MODP_3072)

	modp4096 = modpHex(""+
		"FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF"+
		"1D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3E"+
		"F97D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD6"+
		"5612433F51F5F066ED0856365553DED1AF3B557135E7F57"+
		"C935984F0C70E0E68B77E2A689DAF3EFE8721DF158A136A"+
		"DE73530ACCA4F483A797ABC0AB182B324FB61D108A94BB2"+
		"C8E3FBB96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76"+
		"372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD"+
		"28342F619172FE9CE98583FF8E4F1232EEF28183C3FE3B1"+
		"B4C6FAD733BB5FCBC2EC22005C58EF1837D1683B2C6F34A"+
		"26C1B2EFFA886B4238611FCFDCDE355B3B6519035BBC34F"+
		"4DEF99C023861B46FC9D6E6C9077AD91D2691F7F7EE598C"+
		"B0FAC186D91CAEFE130985139270B4130C93BC437944F4F"+
		"D4452E2D74DD364F2E21E71F54BFF5CAE82AB9C9DF69EE8"+
		"6D2BC522363A0DABC521979B0DEADA1DBF9A42D5C4484E0"+
		"ABCD06BFA53DDEF3C1B20EE3FD59D7C25E41D2B669E1EF1"+
		"6E6F52C3164DF4FB7930E9E4E58857B6AC7D5F42D69F6D1"+
		"87763CF1D5503400487F55BA57E31CC7A7135C886EFB431"+
		"8AED6A1E012D9E6832A907600A918130C46DC778F971AD0"+
		"038092999A333CB8B7A1A1DB93D7140003C2A4ECEA9F98D"+
		"0ACC0A8291CDCEC97DCF8EC9B55A7F88A46B4DB5A851F44"+
		"182E1C68A007E5E0DD9020BFD64B645036C7A4E677D2C38"+
		"532A3A23BA4442CAF53EA63BB454329B7624C8917BDD64B"+
		"1C0FD4CB38E8C334C701C3ACDAD0657FCCFEC719B1F5C3E"+
		"4E46041F388147FB4CFDB477A52471F7A9A96910B855322"+
		"EDB6340D8A00EF092350511E30ABEC1FFF9E3A26E7FB29F"+
		"8C183023C3587E38DA0077D9B4763E4E4B94B2BBC194C6651E77CAF992EEAAC0232A281BF6B3A739C1226116820AE8DB5847A67CBEF9C9091B462D538CD72B03746AE77F5E62292C311562A846505DC82DB854338AE49F5235C95B91178CCF2DD5CACEF403EC9D1810C6272B045B3B71F9DC6B80D63FDD4A8E9ADB1E6962A69526D43161C1A41D570D7938DAD4A40E329CD0E40E65FFFFFFFFFFFFFFFF", 4096, protocol.MODP_4096)
)

var kexAlgoMap = map[protocol.DhTransformId]dhGroup{
	protocol.MODP_1024: modp1024,
	protocol.MODP_1536: modp1536,
	protocol.MODP_2048: modp2048,
	protocol.MODP_3072: modp3072,
	protocol.MODP_4096: modp4096,
}
