package tiko

// GraphQL documents sent to the vendor endpoint. They mirror the documents
// issued by the vendor's mobile app and must not be reformatted.

const mutationLogin = `
mutation HA_LOGIN($email: String!, $password: String!, $langCode: String, $retainSession: Boolean) {
  logIn(
    input: {email: $email, password: $password, langCode: $langCode, retainSession: $retainSession}
  ) {
    user {
      id
      __typename
    }
    token
    __typename
  }
}
`

const queryGetData = `
query HA_GET_DATA {
  properties {
    id
    name
    mode
    rooms {
      id
      name
      currentTemperatureDegrees
      targetTemperatureDegrees
      humidity
      sensors
      mode {
        comfort
        absence
        frost
        sleep
        disableHeating
        __typename
      }
      status {
        heatingOperating
        sensorBatteryLow
        __typename
      }
      __typename
    }
    __typename
  }
}
`

const queryGetConsumptionData = `
query HA_GET_CONSUMPTION_DATA($timestampStart: BigInt!, $timestampEnd: BigInt!, $resolution: String!) {
  properties {
    id
    fastConsumption(start: $timestampStart, end: $timestampEnd, resolution: $resolution) {
      roomsConsumption {
        id
        name
        energyKwh
        energyWh
        __typename
      }
      __typename
    }
    __typename
  }
}
`

const mutationSetRoomMode = `
mutation HA_SET_ROOM_MODE($propertyId: Int!, $roomId: Int!, $mode: String!) {
  setRoomMode(input: {propertyId: $propertyId, roomId: $roomId, mode: $mode}) {
    id
    mode {
      boost
      absence
      frost
      disableHeating
      __typename
    }
    __typename
  }
}
`

const mutationSetRoomTemperature = `
mutation HA_SET_ROOM_TEMPERATURE($propertyId: Int!, $roomId: Int!, $temperature: Float!) {
  setRoomAdjustTemperature(
    input: {propertyId: $propertyId, roomId: $roomId, temperature: $temperature}
  ) {
    id
    adjustTemperature {
      active
      endDateTime
      temperature
      __typename
    }
    __typename
  }
}
`
