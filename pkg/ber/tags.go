package ber

// GOOSE APDU使用的BER标签集合
// 上下文特定标签(0x80起)按IEC 61850-8-1的IECGoosePdu字段顺序编号
const (
	// 应用类标签
	TagGoosePdu byte = 0x61 // Application 1, Constructed

	// IECGoosePdu字段标签
	TagGoCbRef           byte = 0x80 // gocbRef [0]
	TagTimeAllowedToLive byte = 0x81 // timeAllowedtoLive [1]
	TagDatSet            byte = 0x82 // datSet [2]
	TagGoID              byte = 0x83 // goID [3]
	TagT                 byte = 0x84 // t [4]
	TagStNum             byte = 0x85 // stNum [5]
	TagSqNum             byte = 0x86 // sqNum [6]
	TagTest              byte = 0x87 // test [7]
	TagConfRev           byte = 0x88 // confRev [8]
	TagNdsCom            byte = 0x89 // ndsCom [9]
	TagNumDatSetEntries  byte = 0x8A // numDatSetEntries [10]
	TagAllData           byte = 0xAB // allData [11], constructed

	// allData序列中的MMS数据类型标签
	TagDataBoolean       byte = 0x83 // boolean [3]
	TagDataBitString     byte = 0x84 // bit-string [4]，首字节为未用位数
	TagDataInteger       byte = 0x85 // integer [5]
	TagDataUnsigned      byte = 0x86 // unsigned [6]
	TagDataFloat         byte = 0x87 // floating-point [7]
	TagDataOctetString   byte = 0x89 // octet-string [9]
	TagDataVisibleString byte = 0x8A // visible-string [10]
	TagDataUtcTime       byte = 0x91 // utc-time [17]
)
