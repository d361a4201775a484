package tray

// iconData is a 16x16 PNG used as the tray icon.
var iconData = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00,
	0x30, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x60, 0x80, 0x02, 0xbd,
	0xda, 0xe8, 0xff, 0xa4, 0x60, 0x06, 0x74, 0x60, 0xbb, 0xb2, 0xea, 0x3f,
	0x29, 0x98, 0x01, 0xd9, 0x66, 0x52, 0x35, 0xc3, 0x30, 0xd8, 0x25, 0xa3,
	0x06, 0x8c, 0x1a, 0x30, 0x4c, 0x0c, 0xa0, 0x38, 0x33, 0x51, 0x9a, 0x9d,
	0x01, 0xe6, 0xf8, 0x28, 0x4f, 0xb5, 0x08, 0xe9, 0x95, 0x00, 0x00, 0x00,
	0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
