package engine

import "quantillon/internal/application/port"

type PriceFeed = port.PriceFeed
type Repository = port.Repository
