package seg

import (
	"github.com/jnb666/denoiseg/img"
)

// Label thresholds the foreground probability map and assigns a distinct id
// to each 8-connected component.
func Label(prob *img.GrayImage, threshold float64) *img.LabelMap {
	w, h := prob.Width, prob.Height
	mask := img.NewLabelMap(w, h)
	th := float32(threshold)
	var next int32
	stack := make([][2]int, 0, w*h/4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if prob.Pix[x+y*w] <= th || mask.Labels[x+y*w] != 0 {
				continue
			}
			next++
			mask.Labels[x+y*w] = next
			stack = append(stack[:0], [2]int{x, y})
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				for _, n := range neighbours {
					nx, ny := p[0]+n[0], p[1]+n[1]
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					if prob.Pix[nx+ny*w] > th && mask.Labels[nx+ny*w] == 0 {
						mask.Labels[nx+ny*w] = next
						stack = append(stack, [2]int{nx, ny})
					}
				}
			}
		}
	}
	return mask
}
