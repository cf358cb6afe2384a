package chat

import "strconv"

const assetsBase = "https://d39ii5l128t5ul.cloudfront.net/assets"

type Sticker struct {
	Id  int
	Src string
}

func (s Sticker) IdString() string {
	return strconv.Itoa(s.Id)
}

type Avatar struct {
	Id  int
	Url string
}

var Stickers = func() []Sticker {
	out := make([]Sticker, 0, 11)
	for i := 1; i <= 11; i++ {
		out = append(out, Sticker{Id: i - 1, Src: assetsBase + "/chat/v1/sticker-" + strconv.Itoa(i) + ".png"})
	}
	return out
}()

var Avatars = func() []Avatar {
	names := []string{"bear", "bird", "bird2", "giraffe", "hedgehog", "hippo"}
	out := make([]Avatar, 0, len(names))
	for i, name := range names {
		out = append(out, Avatar{Id: i, Url: assetsBase + "/animals_square/" + name + ".png"})
	}
	return out
}()

// StickerSource resolves an inbound sticker source. Unknown sources fall back
// to the first sticker.
func StickerSource(src string) string {
	for _, s := range Stickers {
		if s.Src == src {
			return s.Src
		}
	}
	return Stickers[0].Src
}

// AvatarUrl returns the avatar at index, or the first one when out of range.
func AvatarUrl(index int) string {
	if index < 0 || index >= len(Avatars) {
		return Avatars[0].Url
	}
	return Avatars[index].Url
}
