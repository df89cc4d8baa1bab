package headers

// Outgoing header names (client to server).
const (
	InitiateHandshake = "InitiateHandshake"
	ClientPublicKey   = "ClientPublicKey"
	FlashClientUrl    = "FlashClientUrl"
	ClientSsoTicket   = "ClientSsoTicket"

	ShopObjectGet = "ShopObjectGet"
	PetScratch    = "PetScratch"
	PlayerEffect  = "PlayerEffect"
	BanPlayer     = "BanPlayer"
	ChangeClothes = "ChangeClothes"
	ChangeMotto   = "ChangeMotto"
	ChangeStance  = "ChangeStance"
	ClickPlayer   = "ClickPlayer"
	Dance         = "Dance"
	Gesture       = "Gesture"
	KickPlayer    = "KickPlayer"
	MoveFurniture = "MoveFurniture"
	MutePlayer    = "MutePlayer"
	RaiseSign     = "RaiseSign"
	RoomExit      = "RoomExit"
	RoomNavigate  = "RoomNavigate"
	Say           = "Say"
	Shout         = "Shout"
	Whisper       = "Whisper"
	TradePlayer   = "TradePlayer"
	Walk          = "Walk"
)

// Incoming header names (server to client).
const (
	LocalAlert          = "LocalAlert"
	FloorLoaded         = "FloorLoaded"
	FurnitureDataLoaded = "FurnitureDataLoaded"
	PlayerChangeData    = "PlayerChangeData"
	PlayerChangeStance  = "PlayerChangeStance"
	PlayerDance         = "PlayerDance"
	PlayerDataLoaded    = "PlayerDataLoaded"
	PlayerDropFurniture = "PlayerDropFurniture"
	PlayerGesture       = "PlayerGesture"
	PlayerKickHost      = "PlayerKickHost"
	PlayerMoveFurniture = "PlayerMoveFurniture"
	PlayerSay           = "PlayerSay"
	PlayerShout         = "PlayerShout"
	PlayerWhisper       = "PlayerWhisper"
)

// OutgoingNames lists every known outgoing header name.
var OutgoingNames = []string{
	InitiateHandshake, ClientPublicKey, FlashClientUrl, ClientSsoTicket,
	ShopObjectGet, PetScratch, PlayerEffect, BanPlayer, ChangeClothes, ChangeMotto,
	ChangeStance, ClickPlayer, Dance, Gesture, KickPlayer, MoveFurniture, MutePlayer,
	RaiseSign, RoomExit, RoomNavigate, Say, Shout, Whisper, TradePlayer, Walk,
}

// IncomingNames lists every known incoming header name.
var IncomingNames = []string{
	LocalAlert, FloorLoaded, FurnitureDataLoaded, PlayerChangeData, PlayerChangeStance,
	PlayerDance, PlayerDataLoaded, PlayerDropFurniture, PlayerGesture, PlayerKickHost,
	PlayerMoveFurniture, PlayerSay, PlayerShout, PlayerWhisper,
}
