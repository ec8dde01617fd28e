package frame

// Flip mirrors f in place. The code follows the usual flip convention:
// 0 flips around the horizontal axis (upside down), a positive code flips
// around the vertical axis (left/right) and a negative code flips both.
func (f *Frame) Flip(code int) {
	switch {
	case code == 0:
		f.flipVertical()
	case code > 0:
		f.flipHorizontal()
	default:
		f.flipVertical()
		f.flipHorizontal()
	}
}

func (f *Frame) flipVertical() {
	stride := f.Stride()
	tmp := make([]byte, stride)
	for top, bottom := 0, f.Height-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := f.Pix[top*stride : (top+1)*stride]
		b := f.Pix[bottom*stride : (bottom+1)*stride]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

func (f *Frame) flipHorizontal() {
	stride, ch := f.Stride(), f.Channels
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*stride : (y+1)*stride]
		for l, r := 0, f.Width-1; l < r; l, r = l+1, r-1 {
			for c := 0; c < ch; c++ {
				row[l*ch+c], row[r*ch+c] = row[r*ch+c], row[l*ch+c]
			}
		}
	}
}
