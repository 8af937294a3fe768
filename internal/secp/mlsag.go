package secp

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MLSAG ring signatures. The key matrix M is nCols*nRows serialized points,
// laid out row-major with column stride: entry (col,row) lives at byte
// offset (col + row*nCols)*33. Rows 0..nRows-2 hold ring member public keys
// and carry key images; the final row is the commitment-balance row and is
// not linkable.

// mlsagMatrixAt reads the point at (col,row) from a serialized matrix.
func mlsagMatrixAt(m []byte, nCols, col, row int) ([]byte, error) {
	off := (col + row*nCols) * PointSize
	if off+PointSize > len(m) {
		return nil, fmt.Errorf("%w: matrix too short", ErrMlsagInvalid)
	}
	return m[off : off+PointSize], nil
}

// hashToPoint maps a compressed point to a second curve point with unknown
// discrete log, via try-and-increment on the digest.
func hashToPoint(p Point) (*secp256k1.JacobianPoint, error) {
	digest := sha256.Sum256(p[:])
	for counter := 0; counter < 256; counter++ {
		candidate := make([]byte, PointSize)
		candidate[0] = 0x02
		copy(candidate[1:], digest[:])
		pub, err := secp256k1.ParsePubKey(candidate)
		if err == nil {
			var out secp256k1.JacobianPoint
			pub.AsJacobian(&out)
			return &out, nil
		}
		digest = sha256.Sum256(append(digest[:], byte(counter)))
	}
	return nil, fmt.Errorf("%w: hash-to-point exhausted", ErrMlsagInvalid)
}

// ComputeKeyImage returns sk*Hp(pub), the linkable tag for a one-time key.
// The caller must ensure pub == sk*G or the image will not be linkable.
func ComputeKeyImage(pub Point, sk Scalar) (KeyImage, error) {
	s, err := scalarOf(sk)
	if err != nil {
		return KeyImage{}, err
	}
	hp, err := hashToPoint(pub)
	if err != nil {
		return KeyImage{}, err
	}
	var img secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(s, hp, &img)
	pt, err := pointBytes(&img)
	if err != nil {
		return KeyImage{}, err
	}
	return KeyImage(pt), nil
}

// PrepareMlsag fills the final (commitment) row of m: for each column,
// the sum of that column's input commitments minus the sum of all output
// commitments. It returns the balancing secret that signs the final row:
// the first nBlinds-nOuts blinds summed positive, the rest negative.
//
// When the committed values balance, the final-row point of the honest
// column equals sk*G and the MLSAG closes; any imbalance leaves an H
// component no scalar can sign for.
func PrepareMlsag(m []byte, inCommits, outCommits []Commitment, blinds []Scalar,
	nOuts, nCols, nRows int) (Scalar, error) {

	if nRows < 2 || nCols < 1 {
		return Scalar{}, fmt.Errorf("%w: bad matrix shape %dx%d", ErrMlsagInvalid, nCols, nRows)
	}
	inRows := nRows - 1
	if len(inCommits) != inRows*nCols {
		return Scalar{}, fmt.Errorf("%w: want %d input commitments, got %d", ErrMlsagInvalid, inRows*nCols, len(inCommits))
	}
	if len(m) < nCols*nRows*PointSize {
		return Scalar{}, fmt.Errorf("%w: matrix too short", ErrMlsagInvalid)
	}
	if nOuts > len(blinds) {
		return Scalar{}, fmt.Errorf("%w: nOuts exceeds blind count", ErrMlsagInvalid)
	}

	// Negated sum of output commitments, shared by every column.
	var outSum *secp256k1.JacobianPoint
	for i, oc := range outCommits {
		jp, err := commitJacobian(oc)
		if err != nil {
			return Scalar{}, fmt.Errorf("output commitment %d: %w", i, err)
		}
		if outSum == nil {
			outSum = jp
		} else {
			var next secp256k1.JacobianPoint
			secp256k1.AddNonConst(outSum, jp, &next)
			outSum = &next
		}
	}
	if outSum != nil {
		negatePoint(outSum)
	}

	for col := 0; col < nCols; col++ {
		var acc *secp256k1.JacobianPoint
		for row := 0; row < inRows; row++ {
			jp, err := commitJacobian(inCommits[row*nCols+col])
			if err != nil {
				return Scalar{}, fmt.Errorf("input commitment col %d row %d: %w", col, row, err)
			}
			if acc == nil {
				acc = jp
			} else {
				var next secp256k1.JacobianPoint
				secp256k1.AddNonConst(acc, jp, &next)
				acc = &next
			}
		}
		if outSum != nil {
			var next secp256k1.JacobianPoint
			secp256k1.AddNonConst(acc, outSum, &next)
			acc = &next
		}
		pt, err := pointBytes(acc)
		if err != nil {
			return Scalar{}, fmt.Errorf("%w: column %d balance point degenerate", ErrMlsagInvalid, col)
		}
		copy(m[(col+(nRows-1)*nCols)*PointSize:], pt[:])
	}

	// Balancing secret: sum(input blinds) - sum(output blinds).
	sk, err := PedersenBlindSum(blinds, len(blinds)-nOuts)
	if err != nil {
		return Scalar{}, err
	}
	if sk.IsZero() {
		return Scalar{}, fmt.Errorf("%w: zero balancing secret", ErrMlsagInvalid)
	}
	return sk, nil
}

// mlsagChallenge hashes the preimage and the per-row link points into the
// next column's challenge.
func mlsagChallenge(preimage []byte, links [][]byte) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write(preimage)
	for _, l := range links {
		h.Write(l)
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	var c secp256k1.ModNScalar
	c.SetBytes(&digest)
	if c.IsZero() {
		c.SetInt(1)
	}
	return &c
}

// columnLinks computes the L (and R, for linkable rows) points of one
// column given its s scalars and the running challenge.
func columnLinks(m []byte, nCols, nRows, col int, c *secp256k1.ModNScalar,
	s []secp256k1.ModNScalar, images []*secp256k1.JacobianPoint) ([][]byte, error) {

	dsRows := nRows - 1
	links := make([][]byte, 0, nRows+dsRows)
	for row := 0; row < nRows; row++ {
		pser, err := mlsagMatrixAt(m, nCols, col, row)
		if err != nil {
			return nil, err
		}
		pub, err := secp256k1.ParsePubKey(pser)
		if err != nil {
			return nil, fmt.Errorf("%w: matrix point (%d,%d): %v", ErrMlsagInvalid, col, row, err)
		}
		var pj secp256k1.JacobianPoint
		pub.AsJacobian(&pj)

		// L = s*G + c*P
		var sg, cp, l secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(&s[row], &sg)
		secp256k1.ScalarMultNonConst(c, &pj, &cp)
		secp256k1.AddNonConst(&sg, &cp, &l)
		lb, err := pointBytes(&l)
		if err != nil {
			return nil, fmt.Errorf("%w: degenerate L point", ErrMlsagInvalid)
		}
		links = append(links, lb[:])

		if row < dsRows {
			// R = s*Hp(P) + c*I
			var pt Point
			copy(pt[:], pser)
			hp, err := hashToPoint(pt)
			if err != nil {
				return nil, err
			}
			var shp, ci, r secp256k1.JacobianPoint
			secp256k1.ScalarMultNonConst(&s[row], hp, &shp)
			secp256k1.ScalarMultNonConst(c, images[row], &ci)
			secp256k1.AddNonConst(&shp, &ci, &r)
			rb, err := pointBytes(&r)
			if err != nil {
				return nil, fmt.Errorf("%w: degenerate R point", ErrMlsagInvalid)
			}
			links = append(links, rb[:])
		}
	}
	return links, nil
}

// GenerateMlsag signs preimage over the key matrix m with the real column
// at index. secretKeys holds one scalar per row (the final entry being the
// balancing secret from PrepareMlsag). It returns the key images of the
// linkable rows, the ring seed challenge c0 and the s matrix flattened
// column-major (s[col*nRows+row]).
func GenerateMlsag(nonce [32]byte, preimage []byte, nCols, nRows, index int,
	secretKeys []Scalar, m []byte) ([]KeyImage, [32]byte, []Scalar, error) {

	var c0 [32]byte
	if nRows < 2 || nCols < 1 || index < 0 || index >= nCols {
		return nil, c0, nil, fmt.Errorf("%w: bad parameters", ErrMlsagInvalid)
	}
	if len(secretKeys) != nRows {
		return nil, c0, nil, fmt.Errorf("%w: want %d secret keys, got %d", ErrMlsagInvalid, nRows, len(secretKeys))
	}
	if len(m) < nCols*nRows*PointSize {
		return nil, c0, nil, fmt.Errorf("%w: matrix too short", ErrMlsagInvalid)
	}
	dsRows := nRows - 1

	secrets := make([]*secp256k1.ModNScalar, nRows)
	for i, sk := range secretKeys {
		s, err := scalarOf(sk)
		if err != nil {
			return nil, c0, nil, fmt.Errorf("secret key row %d: %w", i, err)
		}
		secrets[i] = s
	}

	// Key images for the linkable rows, from the real column's points.
	images := make([]KeyImage, dsRows)
	imagePts := make([]*secp256k1.JacobianPoint, dsRows)
	for row := 0; row < dsRows; row++ {
		pser, err := mlsagMatrixAt(m, nCols, index, row)
		if err != nil {
			return nil, c0, nil, err
		}
		var pt Point
		copy(pt[:], pser)
		img, err := ComputeKeyImage(pt, secretKeys[row])
		if err != nil {
			return nil, c0, nil, err
		}
		images[row] = img
		jp, err := pointOf(Point(img))
		if err != nil {
			return nil, c0, nil, err
		}
		imagePts[row] = jp
	}

	stream := newPrfStream(nonce, "mlsag")
	alphas := make([]*secp256k1.ModNScalar, nRows)
	s := make([]secp256k1.ModNScalar, nCols*nRows)

	// Seed column: L = alpha*G, R = alpha*Hp(P).
	links := make([][]byte, 0, nRows+dsRows)
	for row := 0; row < nRows; row++ {
		alphas[row] = stream.nextScalar()
		var ag secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(alphas[row], &ag)
		lb, err := pointBytes(&ag)
		if err != nil {
			return nil, c0, nil, err
		}
		links = append(links, lb[:])

		if row < dsRows {
			pser, _ := mlsagMatrixAt(m, nCols, index, row)
			var pt Point
			copy(pt[:], pser)
			hp, err := hashToPoint(pt)
			if err != nil {
				return nil, c0, nil, err
			}
			var ahp secp256k1.JacobianPoint
			secp256k1.ScalarMultNonConst(alphas[row], hp, &ahp)
			rb, err := pointBytes(&ahp)
			if err != nil {
				return nil, c0, nil, err
			}
			links = append(links, rb[:])
		}
	}
	c := mlsagChallenge(preimage, links)

	// Walk the remaining columns, wrapping back to the real one.
	var haveC0 bool
	for step := 1; step <= nCols; step++ {
		col := (index + step) % nCols
		if col == 0 {
			c0 = scalarBytes(c)
			haveC0 = true
		}
		if col == index {
			break
		}
		for row := 0; row < nRows; row++ {
			sc := stream.nextScalar()
			s[col*nRows+row].Set(sc)
		}
		colS := make([]secp256k1.ModNScalar, nRows)
		for row := 0; row < nRows; row++ {
			colS[row] = s[col*nRows+row]
		}
		links, err := columnLinks(m, nCols, nRows, col, c, colS, imagePts)
		if err != nil {
			return nil, c0, nil, err
		}
		c = mlsagChallenge(preimage, links)
	}
	if !haveC0 {
		// Guard only: the walk above always passes column 0, a one-column
		// ring included, so this branch is not reached.
		c0 = scalarBytes(c)
	}

	// Close the ring: s = alpha - c*x at the real column.
	for row := 0; row < nRows; row++ {
		var cx secp256k1.ModNScalar
		cx.Mul2(c, secrets[row]).Negate()
		cx.Add(alphas[row])
		if cx.IsZero() {
			return nil, c0, nil, fmt.Errorf("%w: degenerate closing scalar", ErrMlsagInvalid)
		}
		s[index*nRows+row].Set(&cx)
		alphas[row].Zero()
	}
	for _, sec := range secrets {
		sec.Zero()
	}

	out := make([]Scalar, len(s))
	for i := range s {
		out[i] = scalarBytes(&s[i])
	}
	return images, c0, out, nil
}

// VerifyMlsag recomputes the MLSAG chain from c0 and reports whether it
// closes.
func VerifyMlsag(preimage []byte, nCols, nRows int, m []byte,
	images []KeyImage, c0 [32]byte, s []Scalar) error {

	dsRows := nRows - 1
	if nRows < 2 || nCols < 1 {
		return fmt.Errorf("%w: bad matrix shape", ErrMlsagInvalid)
	}
	if len(images) != dsRows {
		return fmt.Errorf("%w: want %d key images, got %d", ErrMlsagInvalid, dsRows, len(images))
	}
	if len(s) != nCols*nRows {
		return fmt.Errorf("%w: want %d s values, got %d", ErrMlsagInvalid, nCols*nRows, len(s))
	}
	if len(m) < nCols*nRows*PointSize {
		return fmt.Errorf("%w: matrix too short", ErrMlsagInvalid)
	}

	imagePts := make([]*secp256k1.JacobianPoint, dsRows)
	for i, img := range images {
		jp, err := pointOf(Point(img))
		if err != nil {
			return fmt.Errorf("key image %d: %w", i, err)
		}
		imagePts[i] = jp
	}

	var c0Block [32]byte = c0
	var c secp256k1.ModNScalar
	if c.SetBytes(&c0Block) != 0 || c.IsZero() {
		return fmt.Errorf("%w: bad c0", ErrMlsagInvalid)
	}

	cur := c
	for col := 0; col < nCols; col++ {
		colS := make([]secp256k1.ModNScalar, nRows)
		for row := 0; row < nRows; row++ {
			var block [32]byte = s[col*nRows+row]
			if colS[row].SetBytes(&block) != 0 {
				return fmt.Errorf("%w: s value overflow", ErrMlsagInvalid)
			}
		}
		links, err := columnLinks(m, nCols, nRows, col, &cur, colS, imagePts)
		if err != nil {
			return err
		}
		cur = *mlsagChallenge(preimage, links)
	}
	if !cur.Equals(&c) {
		return fmt.Errorf("%w: ring does not close", ErrMlsagInvalid)
	}
	return nil
}
